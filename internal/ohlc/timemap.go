package ohlc

import (
	"sort"
	"time"
)

// TimeMap indexes derived records by timestamp, at most one record per
// instant, and keeps the timestamps sorted for range scans.
type TimeMap struct {
	times   []time.Time
	records map[int64]*Record
}

// NewTimeMap builds a time map from records in any order. Later records win on
// duplicate timestamps.
func NewTimeMap(records []*Record) *TimeMap {
	m := &TimeMap{
		records: make(map[int64]*Record, len(records)),
	}
	for _, record := range records {
		key := record.Time.Unix()
		if _, exists := m.records[key]; !exists {
			m.times = append(m.times, record.Time)
		}
		m.records[key] = record
	}
	sort.Slice(m.times, func(i, j int) bool {
		return m.times[i].Before(m.times[j])
	})
	return m
}

// At returns the record at an exact timestamp.
func (m *TimeMap) At(t time.Time) (*Record, bool) {
	record, ok := m.records[t.Unix()]
	return record, ok
}

// Times returns the sorted timestamps. The slice must not be modified.
func (m *TimeMap) Times() []time.Time {
	return m.times
}

// Range returns all records with from <= time < to, in ascending order.
func (m *TimeMap) Range(from, to time.Time) []*Record {
	lo := sort.Search(len(m.times), func(i int) bool {
		return !m.times[i].Before(from)
	})
	hi := sort.Search(len(m.times), func(i int) bool {
		return !m.times[i].Before(to)
	})
	records := make([]*Record, 0, hi-lo)
	for _, t := range m.times[lo:hi] {
		records = append(records, m.records[t.Unix()])
	}
	return records
}

// Len returns the number of indexed timestamps.
func (m *TimeMap) Len() int {
	return len(m.times)
}

// ContractMap groups every active contract's bar by timestamp, in ascending
// time order. For futures a bucket holds one bar per contract trading at that
// instant.
type ContractMap struct {
	times   []time.Time
	buckets map[int64][]*Record
	sorted  bool
}

// NewContractMap groups raw records into time buckets.
func NewContractMap(records []RawRecord) *ContractMap {
	m := &ContractMap{
		buckets: make(map[int64][]*Record),
	}
	for i := range records {
		m.add(records[i].Derive())
	}
	m.sort()
	return m
}

func (m *ContractMap) add(record *Record) {
	key := record.Time.Unix()
	bucket, exists := m.buckets[key]
	if !exists {
		m.times = append(m.times, record.Time)
		m.sorted = false
	}
	m.buckets[key] = append(bucket, record)
}

func (m *ContractMap) sort() {
	if m.sorted {
		return
	}
	sort.Slice(m.times, func(i, j int) bool {
		return m.times[i].Before(m.times[j])
	})
	m.sorted = true
}

// Times returns the sorted bucket timestamps. The slice must not be modified.
func (m *ContractMap) Times() []time.Time {
	return m.times
}

// At returns the bucket for an exact timestamp.
func (m *ContractMap) At(t time.Time) ([]*Record, bool) {
	bucket, ok := m.buckets[t.Unix()]
	return bucket, ok
}

// Last returns the most recent bucket.
func (m *ContractMap) Last() ([]*Record, bool) {
	if len(m.times) == 0 {
		return nil, false
	}
	return m.buckets[m.times[len(m.times)-1].Unix()], true
}

// Len returns the number of buckets.
func (m *ContractMap) Len() int {
	return len(m.times)
}
