package chart

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoDataAvailable means no query result has been cached for the session.
var ErrNoDataAvailable = errors.New("no data available for charting; run a SQL query first to retrieve data")

// ErrStaleData means the cached result has outlived the freshness window.
var ErrStaleData = errors.New("cached data is too old to chart; run the query again to refresh it")

// UnknownChartTypeError reports a chart type outside the allow-list. The
// message lists the allowed types so the model can correct itself.
type UnknownChartTypeError struct {
	Requested string
}

func (e *UnknownChartTypeError) Error() string {
	allowed := make([]string, 0, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed = append(allowed, string(t))
	}
	return fmt.Sprintf("chart type %q is not allowed; allowed types: %s",
		e.Requested, strings.Join(allowed, ", "))
}

// MissingColumnError reports a spec column that is not present in the
// cached result, listing the columns that are.
type MissingColumnError struct {
	Column    string
	Available []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("column %q is not present in the cached result; available columns: %s",
		e.Column, strings.Join(e.Available, ", "))
}
