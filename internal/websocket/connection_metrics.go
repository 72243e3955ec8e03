package websocket

import (
	"sync"
	"time"
)

// Delivery operations recorded by the router.
const (
	OperationSendToUser  = "send_to_user"
	OperationSendToUsers = "send_to_users"
	OperationBroadcast   = "broadcast"
)

// DeliveryMetric is one router call.
type DeliveryMetric struct {
	Operation    string        `json:"operation"`
	Duration     time.Duration `json:"duration"`
	SuccessCount int           `json:"successCount"`
	FailureCount int           `json:"failureCount"`
	MessageSize  int           `json:"messageSize"`
	Timestamp    time.Time     `json:"timestamp"`
}

// AggregatedMetrics summarizes every delivery recorded since the last reset.
type AggregatedMetrics struct {
	TotalDeliveries      int     `json:"totalDeliveries"`
	TotalMessages        int     `json:"totalMessages"`
	TotalSuccessMessages int     `json:"totalSuccessMessages"`
	TotalFailedMessages  int     `json:"totalFailedMessages"`
	AvgDeliveryTime      string  `json:"avgDeliveryTime"`
	PeakDeliveryTime     string  `json:"peakDeliveryTime"`
	PeakMessageSize      int     `json:"peakMessageSize"`
	PeakRecipients       int     `json:"peakRecipients"`
	SuccessRate          float64 `json:"successRate"`
}

// ConnectionMetrics keeps a ring buffer of recent deliveries plus running totals.
type ConnectionMetrics struct {
	mu      sync.RWMutex
	history []DeliveryMetric
	pos     int

	totalDeliveries      int
	totalMessages        int
	totalDeliveryTime    time.Duration
	totalSuccessMessages int
	totalFailedMessages  int
	peakDeliveryTime     time.Duration
	peakMessageSize      int
	peakRecipients       int
}

func NewConnectionMetrics(historySize int) *ConnectionMetrics {
	if historySize <= 0 {
		historySize = 100
	}
	return &ConnectionMetrics{
		history: make([]DeliveryMetric, historySize),
	}
}

// RecordDeliveryMetric records the outcome of one fan-out.
func (cm *ConnectionMetrics) RecordDeliveryMetric(
	operation string,
	duration time.Duration,
	successCount int,
	failureCount int,
	messageSize int,
) {
	metric := DeliveryMetric{
		Operation:    operation,
		Duration:     duration,
		SuccessCount: successCount,
		FailureCount: failureCount,
		MessageSize:  messageSize,
		Timestamp:    time.Now(),
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.history[cm.pos] = metric
	cm.pos = (cm.pos + 1) % len(cm.history)

	recipients := successCount + failureCount
	cm.totalDeliveries++
	cm.totalMessages += recipients
	cm.totalDeliveryTime += duration
	cm.totalSuccessMessages += successCount
	cm.totalFailedMessages += failureCount
	if duration > cm.peakDeliveryTime {
		cm.peakDeliveryTime = duration
	}
	if messageSize > cm.peakMessageSize {
		cm.peakMessageSize = messageSize
	}
	if recipients > cm.peakRecipients {
		cm.peakRecipients = recipients
	}
}

// History returns recorded deliveries, oldest first.
func (cm *ConnectionMetrics) History() []DeliveryMetric {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	out := make([]DeliveryMetric, 0, len(cm.history))
	for i := 0; i < len(cm.history); i++ {
		m := cm.history[(cm.pos+i)%len(cm.history)]
		if !m.Timestamp.IsZero() {
			out = append(out, m)
		}
	}
	return out
}

func (cm *ConnectionMetrics) Aggregated() AggregatedMetrics {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	var avg time.Duration
	if cm.totalDeliveries > 0 {
		avg = cm.totalDeliveryTime / time.Duration(cm.totalDeliveries)
	}
	successRate := 0.0
	if cm.totalMessages > 0 {
		successRate = float64(cm.totalSuccessMessages) / float64(cm.totalMessages) * 100
	}

	return AggregatedMetrics{
		TotalDeliveries:      cm.totalDeliveries,
		TotalMessages:        cm.totalMessages,
		TotalSuccessMessages: cm.totalSuccessMessages,
		TotalFailedMessages:  cm.totalFailedMessages,
		AvgDeliveryTime:      avg.String(),
		PeakDeliveryTime:     cm.peakDeliveryTime.String(),
		PeakMessageSize:      cm.peakMessageSize,
		PeakRecipients:       cm.peakRecipients,
		SuccessRate:          successRate,
	}
}

func (cm *ConnectionMetrics) Reset() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for i := range cm.history {
		cm.history[i] = DeliveryMetric{}
	}
	cm.pos = 0
	cm.totalDeliveries = 0
	cm.totalMessages = 0
	cm.totalDeliveryTime = 0
	cm.totalSuccessMessages = 0
	cm.totalFailedMessages = 0
	cm.peakDeliveryTime = 0
	cm.peakMessageSize = 0
	cm.peakRecipients = 0
}
