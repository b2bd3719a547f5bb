package stateset

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// state sync transport. a server broadcasts the committed content of
// one string set to websocket subscribers on every commit; a client
// mirrors the received content into a local set through the normal
// mutation path.

const SyncUpdateBufferSize = 32

type SyncServerSettings struct {
	AuthTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultSyncServerSettings() *SyncServerSettings {
	return &SyncServerSettings{
		AuthTimeout:  2 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

type SyncServer struct {
	ctx    context.Context
	cancel context.CancelFunc

	state *SnapshotStateSet[string]
	// empty means no subscriber auth
	secret []byte

	settings *SyncServerSettings

	upgrader websocket.Upgrader

	mutex sync.Mutex
	// subscriber id -> pending updates
	subscribers map[Id]chan []byte

	removeApplyObserver func()
}

func NewSyncServerWithDefaults(
	ctx context.Context,
	state *SnapshotStateSet[string],
	secret []byte,
) *SyncServer {
	return NewSyncServer(ctx, state, secret, DefaultSyncServerSettings())
}

func NewSyncServer(
	ctx context.Context,
	state *SnapshotStateSet[string],
	secret []byte,
	settings *SyncServerSettings,
) *SyncServer {
	cancelCtx, cancel := context.WithCancel(ctx)
	server := &SyncServer{
		ctx:         cancelCtx,
		cancel:      cancel,
		state:       state,
		secret:      secret,
		settings:    settings,
		subscribers: map[Id]chan []byte{},
	}
	server.removeApplyObserver = AddApplyObserver(server.applied)
	return server
}

func (self *SyncServer) State() *SnapshotStateSet[string] {
	return self.state
}

func (self *SyncServer) applied(modified []any) {
	broadcast := false
	for _, state := range modified {
		if state == any(self.state) {
			broadcast = true
			break
		}
	}
	if !broadcast {
		return
	}

	b, err := self.state.Persist(EncodeStringElement)
	if err != nil {
		glog.Infof("[sync]encode error = %s\n", err)
		return
	}

	self.mutex.Lock()
	defer self.mutex.Unlock()
	for subscriberId, updates := range self.subscribers {
		select {
		case updates <- b:
		default:
			// subscriber is not keeping up. drop this update; a newer
			// full-content update will supersede it.
			glog.V(2).Infof("[sync]drop update %s\n", subscriberId)
		}
	}
}

func (self *SyncServer) addSubscriber() (Id, chan []byte) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	subscriberId := NewId()
	updates := make(chan []byte, SyncUpdateBufferSize)
	self.subscribers[subscriberId] = updates
	return subscriberId, updates
}

func (self *SyncServer) removeSubscriber(subscriberId Id) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	delete(self.subscribers, subscriberId)
}

func (self *SyncServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[sync]upgrade error = %s\n", err)
		return
	}
	defer ws.Close()

	if 0 < len(self.secret) {
		ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
		_, message, err := ws.ReadMessage()
		if err != nil {
			glog.Infof("[sync]auth read error = %s\n", err)
			return
		}
		if err := verifySubscriberJwt(string(message), self.secret); err != nil {
			glog.Infof("[sync]auth error = %s\n", err)
			return
		}
		// auth echo, in the same shape the subscriber sent
		ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	ws.SetReadDeadline(time.Time{})

	subscriberId, updates := self.addSubscriber()
	defer self.removeSubscriber(subscriberId)

	glog.V(1).Infof("[sync]subscribe %s\n", subscriberId)

	connCtx, connCancel := context.WithCancel(self.ctx)
	defer connCancel()
	go func() {
		defer connCancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// initial full content, then one update per commit
	b, err := self.state.Persist(EncodeStringElement)
	if err != nil {
		return
	}
	for {
		ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
		if err := ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
			glog.V(1).Infof("[sync]write error %s = %s\n", subscriberId, err)
			return
		}
		select {
		case <-connCtx.Done():
			return
		case b = <-updates:
		}
	}
}

func (self *SyncServer) Close() {
	self.removeApplyObserver()
	self.cancel()
}

type SyncClientSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	ReconnectTimeout   time.Duration
	WriteTimeout       time.Duration
}

func DefaultSyncClientSettings() *SyncClientSettings {
	return &SyncClientSettings{
		WsHandshakeTimeout: 2 * time.Second,
		AuthTimeout:        2 * time.Second,
		ReconnectTimeout:   5 * time.Second,
		WriteTimeout:       5 * time.Second,
	}
}

// mirrors a served set into a local `SnapshotStateSet[string]`
type SyncClient struct {
	ctx    context.Context
	cancel context.CancelFunc

	url string
	// empty when the server does not require auth
	byJwt string

	instanceId Id
	state      *SnapshotStateSet[string]

	settings *SyncClientSettings
}

func NewSyncClientWithDefaults(ctx context.Context, url string, byJwt string) *SyncClient {
	return NewSyncClient(ctx, url, byJwt, DefaultSyncClientSettings())
}

func NewSyncClient(
	ctx context.Context,
	url string,
	byJwt string,
	settings *SyncClientSettings,
) *SyncClient {
	cancelCtx, cancel := context.WithCancel(ctx)
	client := &SyncClient{
		ctx:        cancelCtx,
		cancel:     cancel,
		url:        url,
		byJwt:      byJwt,
		instanceId: NewId(),
		state:      NewSnapshotStateSet[string](),
		settings:   settings,
	}
	go client.run()
	return client
}

func (self *SyncClient) State() *SnapshotStateSet[string] {
	return self.state
}

func (self *SyncClient) run() {
	defer self.cancel()

	for {
		reconnect := NewReconnect(self.settings.ReconnectTimeout)

		connect := func() (*websocket.Conn, error) {
			dialer := &websocket.Dialer{
				HandshakeTimeout: self.settings.WsHandshakeTimeout,
			}
			ws, _, err := dialer.DialContext(self.ctx, self.url, nil)
			if err != nil {
				return nil, err
			}

			success := false
			defer func() {
				if !success {
					ws.Close()
				}
			}()

			if self.byJwt != "" {
				ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, []byte(self.byJwt)); err != nil {
					return nil, err
				}
				ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
				messageType, message, err := ws.ReadMessage()
				if err != nil {
					return nil, err
				}
				// verify the auth echo
				if messageType != websocket.TextMessage || string(message) != self.byJwt {
					return nil, fmt.Errorf("Auth response error.")
				}
			}

			success = true
			return ws, nil
		}

		var ws *websocket.Conn
		var err error
		if glog.V(2) {
			ws, err = TraceWithReturnError(fmt.Sprintf("[sync]connect %s", self.instanceId), connect)
		} else {
			ws, err = connect()
		}
		if err != nil {
			glog.Infof("[sync]connect error %s = %s\n", self.instanceId, err)
			select {
			case <-self.ctx.Done():
				return
			case <-reconnect.After():
				continue
			}
		}

		self.receive(ws)
		ws.Close()

		select {
		case <-self.ctx.Done():
			return
		case <-reconnect.After():
		}
	}
}

func (self *SyncClient) receive(ws *websocket.Conn) {
	closeCtx, closeCancel := context.WithCancel(self.ctx)
	defer closeCancel()
	go func() {
		<-closeCtx.Done()
		ws.Close()
	}()

	ws.SetReadDeadline(time.Time{})
	for {
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			glog.V(1).Infof("[sync]read error %s = %s\n", self.instanceId, err)
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		set, err := DecodeSet(message, DecodeStringElement)
		if err != nil {
			glog.Infof("[sync]decode error %s = %s\n", self.instanceId, err)
			return
		}
		values := set.Values()
		self.state.RetainAll(values)
		self.state.AddAll(values)
	}
}

func (self *SyncClient) Close() {
	self.cancel()
}

// a minimum delay between connect attempts, measured from creation
type Reconnect struct {
	endTime time.Time
}

func NewReconnect(timeout time.Duration) *Reconnect {
	return &Reconnect{
		endTime: time.Now().Add(timeout),
	}
}

func (self *Reconnect) After() <-chan time.Time {
	return time.After(time.Until(self.endTime))
}

// subscriber auth tokens are HS256 JWTs signed with the server secret

func MintSubscriberJwt(secret []byte, subscriberId Id) (string, error) {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"subscriber_id": subscriberId.String(),
		"iat":           time.Now().Unix(),
	})
	return token.SignedString(secret)
}

func verifySubscriberJwt(byJwt string, secret []byte) error {
	token, err := gojwt.Parse(
		byJwt,
		func(token *gojwt.Token) (any, error) {
			return secret, nil
		},
		gojwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("Invalid subscriber token.")
	}
	return nil
}
