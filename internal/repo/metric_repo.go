package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dushixiang/pika-relay/internal/broker"
	"github.com/dushixiang/pika-relay/internal/protocol"
)

const (
	LatestKey        = "latest_metrics"
	metricsKeyPrefix = "metrics:"
	alertKeyPrefix   = "alert:"
)

// MetricsKey metrics:<unix_seconds>
func MetricsKey(ts int64) string {
	return metricsKeyPrefix + strconv.FormatInt(ts, 10)
}

// AlertKey alert:<unix_seconds>
func AlertKey(ts int64) string {
	return alertKeyPrefix + strconv.FormatInt(ts, 10)
}

// MetricRepo 样本与告警在 TTL 键空间中的读写
type MetricRepo struct {
	kv        broker.KV
	ttl       time.Duration
	latestTTL time.Duration
	now       func() time.Time

	mu        sync.Mutex
	lastAlert int64
}

func NewMetricRepo(kv broker.KV, ttl, latestTTL time.Duration) *MetricRepo {
	return &MetricRepo{
		kv:        kv,
		ttl:       ttl,
		latestTTL: latestTTL,
		now:       time.Now,
	}
}

// SaveSample 写入 metrics:<ts> 与 latest_metrics
func (r *MetricRepo) SaveSample(ctx context.Context, sample *protocol.MetricSample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	if err := r.kv.SetEX(ctx, MetricsKey(sample.Timestamp.Unix()), data, r.ttl); err != nil {
		return err
	}
	return r.kv.SetEX(ctx, LatestKey, data, r.latestTTL)
}

// SaveAlert 以发布时刻生成新键写入告警，同一秒内的多条告警顺延到下一秒，避免覆盖
func (r *MetricRepo) SaveAlert(ctx context.Context, alert *protocol.AlertEvent) (string, error) {
	data, err := json.Marshal(alert)
	if err != nil {
		return "", err
	}
	key := AlertKey(r.nextAlertTS())
	if err := r.kv.SetEX(ctx, key, data, r.ttl); err != nil {
		return "", err
	}
	return key, nil
}

func (r *MetricRepo) nextAlertTS() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := r.now().Unix()
	if ts <= r.lastAlert {
		ts = r.lastAlert + 1
	}
	r.lastAlert = ts
	return ts
}

// FindLatest 读取 latest_metrics，过期视为无数据（broker.ErrNotFound）
func (r *MetricRepo) FindLatest(ctx context.Context) (*protocol.MetricSample, error) {
	data, err := r.kv.Get(ctx, LatestKey)
	if err != nil {
		return nil, err
	}
	var sample protocol.MetricSample
	if err := json.Unmarshal(data, &sample); err != nil {
		return nil, fmt.Errorf("解析 %s 失败: %w", LatestKey, err)
	}
	return &sample, nil
}

// LatestExists latest_metrics 是否仍在有效期内
func (r *MetricRepo) LatestExists(ctx context.Context) (bool, error) {
	return r.kv.Exists(ctx, LatestKey)
}

// FindWindow 将 [from, to) 按 step 分桶，每个桶取最早的一个样本，结果按时间升序
func (r *MetricRepo) FindWindow(ctx context.Context, from, to time.Time, step time.Duration) ([]protocol.MetricSample, error) {
	stepSec := int64(step / time.Second)
	if stepSec < 1 {
		stepSec = 1
	}
	start, end := from.Unix(), to.Unix()
	if end <= start {
		return nil, nil
	}

	keys := make([]string, 0, end-start)
	for ts := start; ts < end; ts++ {
		keys = append(keys, MetricsKey(ts))
	}
	values, err := r.kv.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}

	var samples []protocol.MetricSample
	bucket := int64(-1)
	for i, data := range values {
		if data == nil {
			continue
		}
		b := int64(i) / stepSec
		if b == bucket {
			continue
		}
		var sample protocol.MetricSample
		if err := json.Unmarshal(data, &sample); err != nil {
			continue
		}
		bucket = b
		samples = append(samples, sample)
	}
	return samples, nil
}

// FindAlerts 返回告警时间落在 [from, to] 内的告警，按时间倒序最多 limit 条。
// 同一秒顺延的键可能超前于 to，扫描终点延伸到最后生成的键。
func (r *MetricRepo) FindAlerts(ctx context.Context, from, to time.Time, limit int) ([]protocol.AlertEvent, error) {
	start, end := from.Unix(), to.Unix()
	if end < start {
		return nil, nil
	}
	r.mu.Lock()
	if r.lastAlert > end {
		end = r.lastAlert
	}
	r.mu.Unlock()

	keys := make([]string, 0, end-start+1)
	for ts := start; ts <= end; ts++ {
		keys = append(keys, AlertKey(ts))
	}
	values, err := r.kv.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}

	alerts := make([]protocol.AlertEvent, 0)
	for _, data := range values {
		if data == nil {
			continue
		}
		var alert protocol.AlertEvent
		if err := json.Unmarshal(data, &alert); err != nil {
			continue
		}
		if alert.Timestamp.Before(from) || alert.Timestamp.After(to) {
			continue
		}
		alerts = append(alerts, alert)
	}

	SortAlertsDesc(alerts)
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts, nil
}

// SortAlertsDesc 按时间倒序（稳定排序）
func SortAlertsDesc(alerts []protocol.AlertEvent) {
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Timestamp.After(alerts[j].Timestamp)
	})
}
