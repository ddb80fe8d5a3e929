// Package audit renders and emits the ledger's audit log lines.
package audit

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// Format renders one audit line:
//
//	[<message> Command=<name>, Qty=<n>] CONTEXT(Sku=<s>, Warehouse=<w>, Order=<o>, Originator=<who>, <extra>=<v>) REASON(<r>) COMMENT(<c>)
//
// Empty fields are left out. Extra attributes follow the predefined ones, sorted by name.
func Format(message string, lc domain.LogContext) string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(message)
	header := make([]string, 0, 2)
	if lc.CommandName != "" {
		header = append(header, "Command="+lc.CommandName)
	}
	if lc.CommandName != "" || lc.Quantity != 0 {
		header = append(header, "Qty="+strconv.Itoa(lc.Quantity))
	}
	if len(header) > 0 {
		if message != "" {
			b.WriteByte(' ')
		}
		b.WriteString(strings.Join(header, ", "))
	}
	b.WriteByte(']')

	fields := make([]string, 0, 4+len(lc.Attributes))
	if lc.Key.SkuCode != "" {
		fields = append(fields, "Sku="+lc.Key.SkuCode)
		fields = append(fields, "Warehouse="+strconv.FormatInt(lc.Key.WarehouseID, 10))
	}
	if lc.OrderNumber != "" {
		fields = append(fields, "Order="+lc.OrderNumber)
	}
	if lc.Originator != "" {
		fields = append(fields, "Originator="+lc.Originator)
	}
	for _, name := range sortedAttributeNames(lc.Attributes) {
		v := renderValue(lc.Attributes[name])
		if v == "" {
			continue
		}
		fields = append(fields, name+"="+v)
	}
	if len(fields) > 0 {
		b.WriteString(" CONTEXT(")
		b.WriteString(strings.Join(fields, ", "))
		b.WriteByte(')')
	}

	if lc.Reason != "" {
		b.WriteString(" REASON(")
		b.WriteString(lc.Reason)
		b.WriteByte(')')
	}
	if lc.Comment != "" {
		b.WriteString(" COMMENT(")
		b.WriteString(lc.Comment)
		b.WriteByte(')')
	}
	return b.String()
}

func sortedAttributeNames(attrs map[string]any) []string {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
