package report

import (
	_ "embed"
	"strings"
)

//go:embed rules/default.txt
var defaultRules string

// DefaultRules 内置的审核规则集，调用方未提供规则时使用
func DefaultRules() string {
	return strings.TrimSpace(defaultRules)
}
