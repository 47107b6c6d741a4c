package telemetry

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/baggage"
)

// Baggage holds request-scoped telemetry labels that flow through context.
type Baggage map[string]string

// Limits on baggage size, per the W3C baggage specification's
// recommendations, to keep context propagation bounded.
const (
	MaxBaggageItems       = 64
	MaxBaggageKeyLength   = 128
	MaxBaggageValueLength = 512
	MaxBaggageTotalSize   = 8192
)

var (
	baggageItemsAdded   atomic.Uint64
	baggageItemsDropped atomic.Uint64
	baggageOverLimit    atomic.Uint64
	baggageTotalSize    atomic.Uint64
)

var labelPool = sync.Pool{
	New: func() any {
		s := make([]string, 0, 32)
		return &s
	},
}

// WithBaggage adds labels that automatically flow through all telemetry
// emitted from this context, using OpenTelemetry baggage. Multiple calls
// are additive; a later value overrides an earlier one with the same key.
func WithBaggage(ctx context.Context, labels ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	bag := baggage.FromContext(ctx)
	members := bag.Members()

	if len(members) >= MaxBaggageItems {
		baggageOverLimit.Add(1)
		return ctx
	}

	totalSize := 0
	for _, m := range members {
		totalSize += len(m.Key()) + len(m.Value())
	}

	var newMembers []baggage.Member
	for i := 0; i < len(labels)-1; i += 2 {
		key := labels[i]
		value := labels[i+1]
		if key == "" {
			continue
		}
		if len(key) > MaxBaggageKeyLength {
			key = key[:MaxBaggageKeyLength]
		}
		if len(value) > MaxBaggageValueLength {
			value = value[:MaxBaggageValueLength]
		}

		newItemSize := len(key) + len(value)
		if totalSize+newItemSize > MaxBaggageTotalSize {
			baggageItemsDropped.Add(1)
			continue
		}

		member, err := baggage.NewMember(key, value)
		if err != nil {
			continue
		}
		newMembers = append(newMembers, member)
		totalSize += newItemSize
		baggageItemsAdded.Add(1)
	}

	newBag := bag
	for _, member := range newMembers {
		var err error
		newBag, err = newBag.SetMember(member)
		if err != nil {
			continue
		}
	}

	baggageTotalSize.Store(uint64(totalSize))
	return baggage.ContextWithBaggage(ctx, newBag)
}

// GetBaggage retrieves the current baggage from context as a map, or nil
// if no baggage is set.
func GetBaggage(ctx context.Context) Baggage {
	if ctx == nil {
		return nil
	}

	bag := baggage.FromContext(ctx)
	members := bag.Members()
	if len(members) == 0 {
		return nil
	}

	result := make(Baggage, len(members))
	for _, m := range members {
		result[m.Key()] = m.Value()
	}
	return result
}

// appendBaggageToLabels merges baggage into an explicit label slice with
// deterministic (sorted) key ordering; baggage takes precedence on
// key collision.
func appendBaggageToLabels(ctx context.Context, labels []string) []string {
	if ctx == nil {
		return labels
	}

	bag := baggage.FromContext(ctx)
	members := bag.Members()
	if len(members) == 0 {
		return labels
	}

	resultPtr := labelPool.Get().(*[]string)
	result := (*resultPtr)[:0]

	labelMap := make(map[string]string, len(labels)/2+len(members))
	for i := 0; i < len(labels)-1; i += 2 {
		labelMap[labels[i]] = labels[i+1]
	}
	for _, m := range members {
		labelMap[m.Key()] = m.Value()
	}

	keys := make([]string, 0, len(labelMap))
	for k := range labelMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		result = append(result, k, labelMap[k])
	}
	return result
}

// returnLabelSlice returns a label slice to the pool for reuse.
func returnLabelSlice(labels []string) {
	if cap(labels) <= 512 {
		labels = labels[:0]
		labelPool.Put(&labels)
	}
}

// BaggageStats reports internal baggage-usage counters, useful for
// diagnosing when limits are being hit in production.
type BaggageStats struct {
	ItemsAdded   uint64 `json:"items_added"`
	ItemsDropped uint64 `json:"items_dropped"`
	OverLimit    uint64 `json:"over_limit"`
	CurrentSize  uint64 `json:"current_size"`
}

// GetBaggageStats returns the current baggage-usage counters.
func GetBaggageStats() BaggageStats {
	return BaggageStats{
		ItemsAdded:   baggageItemsAdded.Load(),
		ItemsDropped: baggageItemsDropped.Load(),
		OverLimit:    baggageOverLimit.Load(),
		CurrentSize:  baggageTotalSize.Load(),
	}
}

// ResetBaggageStats resets the baggage-usage counters; used by tests.
func ResetBaggageStats() {
	baggageItemsAdded.Store(0)
	baggageItemsDropped.Store(0)
	baggageOverLimit.Store(0)
	baggageTotalSize.Store(0)
}
