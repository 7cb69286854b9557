package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"backtrack/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============ sync.Pool для JSON буферов ============

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 1024))
	},
}

// broadcastBufferSize - ёмкость очереди broadcast; при переполнении
// сообщения отбрасываются, а не блокируют прогон
const broadcastBufferSize = 1024

// Hub управляет всеми активными WebSocket соединениями
//
// Назначение:
// Транслирует ход прогонов бэктеста всем подписчикам /ws/stream.
//
// Типы сообщений:
// - runStarted: прогон создан
// - tradeResult: ордер прогона завершён
// - dailyStats: закрыт день симуляции аккаунта
// - runFinished: прогон завершён
//
// Использование:
// 1. Создать hub: hub := NewHub()
// 2. Запустить в горутине: go hub.Run()
// 3. Отправлять сообщения: hub.Broadcast(message)
// 4. Остановить: hub.Stop()
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	mu sync.RWMutex

	// счетчики читаются без блокировки
	clientCount atomic.Int64
	dropped     atomic.Uint64

	logger *zap.Logger
}

// NewHub создает новый Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     zap.NewNop(),
	}
}

// SetLogger устанавливает логгер hub'а
func (h *Hub) SetLogger(logger *zap.Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// Run запускает главный цикл Hub до вызова Stop
//
// Список клиентов копируется под RLock, отправка идёт без блокировки,
// медленные клиенты удаляются под Write Lock.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.clientCount.Store(int64(len(h.clients)))
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", zap.Int64("clients", h.clientCount.Load()))

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", zap.Int64("clients", h.clientCount.Load()))

		case message := <-h.broadcast:
			h.fanOut(message)
		}
	}
}

func (h *Hub) fanOut(message []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			// клиент не успевает вычитывать очередь
			toRemove = append(toRemove, client)
		}
	}

	if len(toRemove) > 0 {
		h.mu.Lock()
		for _, client := range toRemove {
			h.remove(client)
		}
		h.mu.Unlock()
		h.logger.Warn("removed slow websocket clients",
			zap.Int("removed", len(toRemove)),
			zap.Int64("clients", h.clientCount.Load()))
	}
}

// remove вызывается под h.mu
func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.clientCount.Store(int64(len(h.clients)))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.remove(client)
	}
}

// Stop останавливает Run и закрывает очереди клиентов. Повторный вызов безопасен.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast сериализует сообщение и ставит его в очередь всем клиентам.
// Не блокирует: при переполненной очереди сообщение отбрасывается.
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.logger.Error("failed to marshal broadcast message", zap.Error(err))
		return
	}

	// Encode добавляет перевод строки
	h.BroadcastRaw(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}))
}

// BroadcastRaw ставит в очередь уже сериализованное сообщение.
// data копируется, вызывающий может переиспользовать буфер.
func (h *Hub) BroadcastRaw(data []byte) {
	select {
	case <-h.done:
		return
	default:
	}

	msg := make([]byte, len(data))
	copy(msg, data)

	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
	}
}

// ============ Сообщения прогонов ============

// BroadcastRunStarted отправляет runStarted
func (h *Hub) BroadcastRunStarted(run *models.BacktestRun) {
	h.Broadcast(NewRunStartedMessage(run))
}

// BroadcastTradeResult отправляет tradeResult
func (h *Hub) BroadcastTradeResult(runID int, result models.OrderResult) {
	h.Broadcast(NewTradeResultMessage(runID, result))
}

// BroadcastDailyStats отправляет dailyStats
func (h *Hub) BroadcastDailyStats(runID int, stats models.AccountDailyStats) {
	h.Broadcast(NewDailyStatsMessage(runID, stats))
}

// BroadcastRunFinished отправляет runFinished
func (h *Hub) BroadcastRunFinished(run *models.BacktestRun) {
	h.Broadcast(NewRunFinishedMessage(run))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	return int(h.clientCount.Load())
}

// DroppedMessages - число сообщений, отброшенных из-за переполненной очереди
func (h *Hub) DroppedMessages() uint64 {
	return h.dropped.Load()
}
