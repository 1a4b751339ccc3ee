package changefeed

import (
	"fmt"
	"slices"
	"sort"
)

const channelPrefix = "cf:"

const (
	EventInsert = "insert"
	EventUpdate = "update"
	EventDelete = "delete"
)

// Filter 订阅条件：表 + 可选的一个等值列过滤；Events 为空表示全部事件
type Filter struct {
	Table  string
	Events []string
	Column string
	Value  string
}

// Key 资源键，例如 posts、posts:community_id=eq.7
func (f Filter) Key() string {
	if f.Column == "" {
		return f.Table
	}
	return fmt.Sprintf("%s:%s=eq.%s", f.Table, f.Column, f.Value)
}

func (f Filter) Channel() string { return channelPrefix + f.Key() }

func (f Filter) Validate() error {
	if f.Table == "" {
		return fmt.Errorf("changefeed: filter table required")
	}
	if (f.Column == "") != (f.Value == "") {
		return fmt.Errorf("changefeed: filter column and value go together")
	}
	for _, e := range f.Events {
		switch e {
		case EventInsert, EventUpdate, EventDelete:
		default:
			return fmt.Errorf("changefeed: unknown event %q", e)
		}
	}
	return nil
}

func (f Filter) matches(ev Event) bool {
	if ev.Table != f.Table {
		return false
	}
	if len(f.Events) > 0 && !slices.Contains(f.Events, ev.Type) {
		return false
	}
	if f.Column != "" && ev.Columns[f.Column] != f.Value {
		return false
	}
	return true
}

func TableFilter(table string) Filter { return Filter{Table: table} }

func ColumnFilter(table, column string, value uint64) Filter {
	return Filter{Table: table, Column: column, Value: fmt.Sprintf("%d", value)}
}

// Event 一次变更；Columns 只放可用于过滤的列
type Event struct {
	Table   string            `json:"table"`
	Type    string            `json:"type"`
	Columns map[string]string `json:"columns,omitempty"`
	Origin  uint64            `json:"origin,omitempty"`
}

// Channels 事件需要投递的所有频道：整表一个，每个过滤列一个
func (e Event) Channels() []string {
	out := []string{TableFilter(e.Table).Channel()}
	cols := make([]string, 0, len(e.Columns))
	for c := range e.Columns {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	for _, c := range cols {
		out = append(out, Filter{Table: e.Table, Column: c, Value: e.Columns[c]}.Channel())
	}
	return out
}

