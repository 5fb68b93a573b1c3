package model

import (
	"fmt"
)

// Method selects the task handler strategy used to run a site's due cron
// events.
type Method uint8

const (
	// MethodWPCLI runs `wp cron event run --due-now` scoped to the site.
	MethodWPCLI Method = iota
	// MethodPHPDirect executes the site's wp-cron.php with the PHP binary.
	MethodPHPDirect
)

const (
	methodWPCLI     = "wp-cli"
	methodPHPDirect = "php-direct"
)

// ParseMethod converts the registry spelling into a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case methodWPCLI:
		return MethodWPCLI, nil
	case methodPHPDirect:
		return MethodPHPDirect, nil
	}
	return 0, fmt.Errorf("unknown method %q (want %q or %q)", s, methodWPCLI, methodPHPDirect)
}

func (m Method) String() string {
	switch m {
	case MethodPHPDirect:
		return methodPHPDirect
	default:
		return methodWPCLI
	}
}

// SiteRecord is one managed WordPress installation, as declared by a single
// registry line. Records are immutable once constructed and carry no state
// between runs.
type SiteRecord struct {
	Path   string // absolute site root
	Owner  string // unix account owning Path; jobs run under it
	Method Method
	Line   int // 1-based registry line, kept for audit logs
}

func (r SiteRecord) String() string {
	return fmt.Sprintf("%s|%s|%s", r.Path, r.Owner, r.Method)
}
