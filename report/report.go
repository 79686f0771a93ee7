// Package report produces the fixed-schema diagnostic report and parses it
// back.
//
// A report is a sequence of LABEL<TAB>VALUE lines framed by
// BEGIN_REPORT<TAB>mythic-wp<TAB>2 and END_REPORT<TAB>mythic-wp. Field order
// is part of schema version 2; adding, removing or reordering a field
// requires a new version.
package report

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"mythicwp/hasher"
	"mythicwp/inventory"
	"mythicwp/output"
	"mythicwp/scanner"
	"mythicwp/systeminfo"
	"mythicwp/tracing"
	"mythicwp/version"
)

const (
	ToolID        = version.ToolID
	SchemaVersion = 2

	// DateATOM renders timestamps the way the consuming service expects.
	DateATOM = "2006-01-02T15:04:05-07:00"
)

var (
	addrUnsafe = regexp.MustCompile(`[^a-f0-9.:]`)
	nonDigit   = regexp.MustCompile(`\D`)
)

// Facts supplies details about the local system. Tests replace them.
type Facts struct {
	ProcessIdentity func() (systeminfo.Identity, error)
	DirOwner        func(path string) (systeminfo.Identity, error)
	Uname           func() (string, error)
}

// HostFacts reads facts from the running system.
func HostFacts() Facts {
	return Facts{
		ProcessIdentity: systeminfo.ProcessIdentity,
		DirOwner:        systeminfo.DirOwner,
		Uname:           systeminfo.Uname,
	}
}

type Options struct {
	// Scanner hashes files for PHP_IN_UPLOADS and the deep-hash block.
	// A default scanner is used when nil.
	Scanner *scanner.Scanner
	Facts   Facts
	Now     func() time.Time
}

type Generator struct {
	scanner *scanner.Scanner
	facts   Facts
	now     func() time.Time
}

func NewGenerator(opts Options) *Generator {
	if opts.Scanner == nil {
		opts.Scanner = scanner.New(scanner.Options{})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	host := HostFacts()
	if opts.Facts.ProcessIdentity == nil {
		opts.Facts.ProcessIdentity = host.ProcessIdentity
	}
	if opts.Facts.DirOwner == nil {
		opts.Facts.DirOwner = host.DirOwner
	}
	if opts.Facts.Uname == nil {
		opts.Facts.Uname = host.Uname
	}
	return &Generator{scanner: opts.Scanner, facts: opts.Facts, now: opts.Now}
}

// Request carries everything a single report needs besides local facts.
type Request struct {
	Inventory     *inventory.Inventory
	IncludeHashes bool
	// LastQuery and LastCron are stored timestamps in unix seconds. Any
	// non-digit characters are dropped.
	LastQuery string
	LastCron  string
}

// Write streams a report to w.
func (g *Generator) Write(ctx context.Context, w io.Writer, req Request) error {
	return g.Emit(ctx, output.NewLineWriter(w), req)
}

// Emit writes a report through lw and flushes it. Field failures never stop
// the report; only write errors and context cancellation are returned.
func (g *Generator) Emit(ctx context.Context, lw *output.LineWriter, req Request) error {
	ctx, endTask := tracing.StartTask(ctx, "report")
	defer endTask()

	r := newRun(ctx, g, lw, req)
	lw.Text("BEGIN_REPORT", ToolID, strconv.Itoa(SchemaVersion))
	r.fields()
	lw.Text("END_REPORT", ToolID)

	if err := lw.Flush(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return ctx.Err()
}

// SanitizeAddr drops every character that cannot appear in an IPv4 or IPv6
// literal.
func SanitizeAddr(addr string) string {
	return addrUnsafe.ReplaceAllString(addr, "")
}

// InstanceID identifies a site by its server address and install path. The
// trailing newline is part of the hashed input.
func InstanceID(addr, installPath string) string {
	sum, err := hasher.HashBytes([]byte("["+addr+"]:"+installPath+"\n"), hasher.MD5)
	if err != nil {
		return ""
	}
	return sum
}

// SanitizeTimestamp keeps only the digits of a stored timestamp. Empty or
// out-of-range values read as zero.
func SanitizeTimestamp(raw string) int64 {
	digits := nonDigit.ReplaceAllString(raw, "")
	if digits == "" {
		return 0
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func trimSlash(p string) string {
	return strings.TrimRight(p, "/")
}

// FormatATOM renders unix seconds as an ISO-8601 UTC timestamp.
func FormatATOM(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(DateATOM)
}
