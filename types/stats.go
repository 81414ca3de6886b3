package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

const (
	StatKindMembership = "membership_stats"
	StatKindActivity   = "activity_stats"
	StatKindRevenue    = "revenue_stats"
)

var StatKinds = []string{StatKindMembership, StatKindActivity, StatKindRevenue}

func ValidStatKind(kind string) bool {
	for _, k := range StatKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// StatRecord is one entry of an append-only admin time series.
type StatRecord struct {
	Id        string    `json:"id" mapstructure:"id"`
	Kind      string    `json:"kind" mapstructure:"-"`
	Period    string    `json:"period" mapstructure:"period"`
	Metrics   Metrics   `json:"metrics" mapstructure:"metrics"`
	CreatedAt time.Time `json:"createdAt" mapstructure:"created_at"`
}

// Metrics is stored as a JSON object, it implements driver.Valuer and sql.Scanner
type Metrics map[string]float64

// Value return json value, implement driver.Valuer interface
func (m Metrics) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	ba, err := json.Marshal(map[string]float64(m))
	return string(ba), err
}

// Scan scan value into Metrics, implements sql.Scanner interface
func (m *Metrics) Scan(val interface{}) error {
	var ba []byte
	switch v := val.(type) {
	case []byte:
		ba = v
	case string:
		ba = []byte(v)
	case nil:
		*m = Metrics{}
		return nil
	default:
		return errors.New(fmt.Sprint("Failed to unmarshal metrics value:", val))
	}
	t := map[string]float64{}
	err := json.Unmarshal(ba, &t)
	*m = Metrics(t)
	return err
}

// Names returns the metric names in a stable order.
func (m Metrics) Names() []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
