package dbh

import (
	"database/sql/driver"
	"time"
)

// IntTime is time in milliseconds UTC (aka unix milliseconds).
// It lets gorm store timestamps as plain integers, which sort and compare the
// same way in SQLite and Postgres.
// The zero value means null, so we are unable to represent 1970-01-01 00:00:00.000.
type IntTime int64

// Return a new IntTime from a time.Time
func MakeIntTime(v time.Time) IntTime {
	if v.IsZero() {
		return 0
	}
	return IntTime(v.UnixMilli())
}

func (t IntTime) IsZero() bool {
	return t == 0
}

// Set IntTime to time.Time
func (t *IntTime) Set(v time.Time) {
	*t = MakeIntTime(v)
}

// Get time.Time
func (t IntTime) Get() time.Time {
	if t == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(t)).UTC()
}

func (t *IntTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = 0
	case int32:
		*t = IntTime(v)
	case int64:
		*t = IntTime(v)
	}
	return nil
}

func (t IntTime) Value() (driver.Value, error) {
	if t == 0 {
		return nil, nil
	}
	return int64(t), nil
}
