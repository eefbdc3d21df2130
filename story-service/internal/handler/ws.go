package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"storyreel-server/pkg/jobtracker"
)

const (
	// Время, разрешенное для записи сообщения клиенту.
	writeWait = 10 * time.Second
	// Время, разрешенное для чтения следующего pong сообщения от клиента.
	pongWait = 60 * time.Second
	// Отправлять пинги клиенту с этим периодом. Должно быть меньше pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Максимальный размер сообщения, разрешенный от клиента.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client представляет собой одно WebSocket соединение, подписанное на
// прогресс задач одной истории.
type Client struct {
	StoryID string
	Conn    *websocket.Conn
	send    chan []byte
}

// ConnectionManager управляет активными WebSocket соединениями.
// На одну историю допускается одно соединение: новое вытесняет старое.
type ConnectionManager struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     zerolog.Logger
}

// NewConnectionManager создает и запускает новый менеджер соединений.
func NewConnectionManager(logger zerolog.Logger) *ConnectionManager {
	m := &ConnectionManager{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With().Str("component", "ConnectionManager").Logger(),
	}
	go m.run()
	return m
}

func (m *ConnectionManager) run() {
	for {
		select {
		case client := <-m.register:
			m.mu.Lock()
			if old, ok := m.clients[client.StoryID]; ok {
				m.logger.Debug().Str("story_id", client.StoryID).Msg("Closing previous connection")
				close(old.send)
				_ = old.Conn.Close()
			}
			m.clients[client.StoryID] = client
			m.mu.Unlock()
			m.logger.Info().Str("story_id", client.StoryID).Msg("Client registered")

		case client := <-m.unregister:
			m.mu.Lock()
			// Вытесненное при регистрации соединение не должно снести
			// актуального клиента той же истории.
			if current, ok := m.clients[client.StoryID]; ok && current == client {
				delete(m.clients, client.StoryID)
				close(client.send)
				m.logger.Info().Str("story_id", client.StoryID).Msg("Client unregistered")
			}
			m.mu.Unlock()
		}
	}
}

// SendToClient доставляет обновление прогресса подписчику истории.
// Переполнение очереди отправки не блокирует трекер: сообщение теряется.
func (m *ConnectionManager) SendToClient(clientID string, update jobtracker.ProgressUpdate) {
	body, err := json.Marshal(update)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to marshal progress update")
		return
	}

	m.mu.RLock()
	client, ok := m.clients[clientID]
	m.mu.RUnlock()
	if !ok {
		m.logger.Debug().Str("story_id", clientID).Msg("No subscriber for story")
		return
	}
	select {
	case client.send <- body:
	default:
		m.logger.Warn().Str("story_id", clientID).Msg("Send queue full, dropping update")
	}
}

// Broadcast отправляет обновление всем подписчикам.
func (m *ConnectionManager) Broadcast(update jobtracker.ProgressUpdate) {
	body, err := json.Marshal(update)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to marshal progress update")
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for storyID, client := range m.clients {
		select {
		case client.send <- body:
		default:
			m.logger.Warn().Str("story_id", storyID).Msg("Send queue full, dropping update")
		}
	}
}

// ServeWS обновляет HTTP запрос до WebSocket подписки на прогресс истории.
// Идентификатор истории передается query-параметром story_id.
func (m *ConnectionManager) ServeWS(c *gin.Context) {
	storyID := c.Query("story_id")
	if storyID == "" {
		c.JSON(http.StatusBadRequest, APIError{Message: "story_id query parameter is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.logger.Error().Err(err).Str("story_id", storyID).Msg("Failed to upgrade connection")
		return
	}

	client := &Client{
		StoryID: storyID,
		Conn:    conn,
		send:    make(chan []byte, 256),
	}
	m.register <- client

	go client.writePump(m.logger.With().Str("story_id", storyID).Logger())
	go client.readPump(m, m.logger.With().Str("story_id", storyID).Logger())
}

// readPump откачивает входящие сообщения; клиенты ничего не присылают,
// чтение нужно только для обработки pong и закрытия.
func (c *Client) readPump(manager *ConnectionManager, logger zerolog.Logger) {
	defer func() {
		manager.unregister <- c
		_ = c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket read error")
			}
			break
		}
		logger.Warn().Bytes("message", message).Msg("Received unexpected message from client (ignored)")
	}
}

// writePump откачивает сообщения из канала send в соединение.
func (c *Client) writePump(logger zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn().Err(err).Msg("WebSocket write error")
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
