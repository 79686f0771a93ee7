package report

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"mythicwp/inventory"
	"mythicwp/logger"
	"mythicwp/output"
	"mythicwp/scanner"
	"mythicwp/tracing"
)

const (
	unset         = "unset"
	cronDefault   = "default"
	missingConfig = "_missing"
	notRequested  = "not requested"
)

var (
	uploadsPHP  = regexp.MustCompile(`\.(php|php[s0-9]|phtml)$`)
	contentPHP  = regexp.MustCompile(`\.php$`)
	entryPoints = regexp.MustCompile(`(^|/)(index\.php|wp-[^/]*\.php)$`)
)

type hashScan struct {
	label     string
	root      string
	pattern   *regexp.Regexp
	recursive bool
}

// run holds the values shared by the fields of one report.
type run struct {
	ctx context.Context
	g   *Generator
	lw  *output.LineWriter
	req Request
	inv *inventory.Inventory

	addr    string
	docroot string
	install string
}

func newRun(ctx context.Context, g *Generator, lw *output.LineWriter, req Request) *run {
	inv := req.Inventory
	if inv == nil {
		inv = &inventory.Inventory{}
	}
	return &run{
		ctx:     ctx,
		g:       g,
		lw:      lw,
		req:     req,
		inv:     inv,
		addr:    SanitizeAddr(inv.Server.Addr),
		docroot: trimSlash(inv.Server.DocumentRoot),
		install: trimSlash(inv.Paths.Install),
	}
}

func (r *run) fields() {
	inv := r.inv
	site := inv.Site
	paths := inv.Paths
	consts := inv.Constants

	r.text("SERVER_ADDR", r.addr)
	r.text("SERVER_DOCROOT", r.docroot)
	r.text("DB_HOST", inv.Database.Host)
	r.text("DB_NAME", inv.Database.Name)
	r.text("DB_USER", inv.Database.User)
	r.text("WP_ABSPATH", r.install)
	r.text("INSTANCE_ID", InstanceID(r.addr, r.install))
	r.textFn("USER_UID_GID", func() ([]string, error) {
		id, err := r.g.facts.ProcessIdentity()
		return id.Fields(), err
	})
	r.textFn("WP_DIR_OWNER", func() ([]string, error) {
		id, err := r.g.facts.DirOwner(r.install)
		return id.Fields(), err
	})
	r.text("PHP_VERSION", inv.Runtime.Version, inv.Runtime.SAPI)
	r.jsonFn("PHP_EXTENSIONS", "[]", func() (any, error) { return listOrEmpty(inv.Runtime.Extensions), nil })
	r.text("PHP_UPLOAD", inv.Runtime.UploadMax)
	r.text("PHP_MEMLIMIT", inv.Runtime.MemoryLimit)
	r.text("WP_MEMLIMIT", orSentinel(consts.WPMemoryLimit, unset), orSentinel(consts.WPMaxMemoryLimit, unset))
	r.textFn("UNAME", func() ([]string, error) {
		u, err := r.g.facts.Uname()
		return []string{u}, err
	})

	r.text("WP_CORE_VERSION", site.CoreVersion)
	r.text("WP_CORE_LANG", site.Language)
	r.text("BLOG_NAME", site.BlogName)
	r.text("WP_HOME_URL", site.HomeURL)
	r.text("WP_SITE_URL", site.SiteURL)
	r.text("ADMIN_URL", site.AdminURL)
	r.text("WP_CONTENT_URL", site.ContentURL)
	r.text("WP_PLUGIN_URL", site.PluginURL)
	r.text("WP_CONTENT_DIR", paths.Content)
	r.text("WP_PLUGIN_DIR", paths.Plugin)
	r.text("WP_THEME_DIR", paths.ThemeRoot)
	r.text("WP_UPLOAD_DIR", paths.Upload)

	r.text("WP_DEBUG", orSentinel(consts.WPDebug, unset))
	r.text("WP_CRON", r.req.LastCron, orSentinel(consts.DisableWPCron, cronDefault))
	r.text("WP_UPDATE_CORE", orSentinel(consts.WPAutoUpdateCore, unset))

	r.text("ADMIN_EMAIL", site.AdminEmail)
	r.text("USER_REGISTER", site.UsersCanRegister)
	r.text("USER_DEFAULT", site.DefaultRole)
	r.jsonFn("USER_ROLES", "[]", func() (any, error) { return assocOrEmpty(inv.UserRoles), nil })

	r.jsonFn("PLUGIN_DATA", "[]", func() (any, error) { return assocOrEmpty(inv.Plugins), nil })
	r.jsonFn("PLUGIN_UPDATE", "{}", func() (any, error) { return orEmptyObject(inv.PluginUpdates), nil })
	r.jsonFn("PLUGIN_ACTIVE", "[]", func() (any, error) { return listOrEmpty(inv.ActivePlugins), nil })
	r.jsonFn("PLUGIN_NETWORK", "{}", func() (any, error) { return orEmptyObject(inv.NetworkPlugins), nil })
	r.jsonFn("PLUGIN_MU", "[]", func() (any, error) { return assocOrEmpty(inv.MUPlugins), nil })
	r.jsonFn("PLUGIN_DROPIN", "[]", func() (any, error) { return assocOrEmpty(inv.Dropins), nil })

	r.text("THEME_ACTIVE", inv.ActiveTheme)
	r.jsonFn("THEME_LIST", "{}", func() (any, error) { return orEmptyObject(inv.ThemeList), nil })
	r.jsonFn("THEME_UPDATE", "{}", func() (any, error) { return orEmptyObject(inv.ThemeUpdates), nil })
	r.jsonFn("THEME_DATA", "[]", func() (any, error) { return assocOrEmpty(inv.Themes), nil })

	r.scan(hashScan{"PHP_IN_UPLOADS", paths.Upload, uploadsPHP, true})
	r.htaccess()

	if r.req.IncludeHashes {
		for _, hs := range r.deepHashScans() {
			r.scan(hs)
		}
	} else {
		r.text("HASHES", notRequested)
	}

	r.lastQuery()
}

func (r *run) deepHashScans() []hashScan {
	paths := r.inv.Paths
	return []hashScan{
		{"WPCONTENT_HASH", paths.Content, contentPHP, false},
		{"PLUGIN_HASH", paths.Plugin, nil, true},
		{"PLUGIN_MU_HASH", under(paths.Content, "mu-plugins"), nil, true},
		{"THEME_HASH", paths.ThemeRoot, nil, true},
		{"WPABS_HASH", r.install, entryPoints, false},
		{"WPADM_HASH", under(r.install, "wp-admin"), nil, true},
		{"WPINC_HASH", under(r.install, "wp-includes"), nil, true},
	}
}

func (r *run) text(label string, parts ...string) {
	r.lw.Text(label, parts...)
}

// textFn writes the parts returned by fn, or unset when fn fails.
func (r *run) textFn(label string, fn func() ([]string, error)) {
	var parts []string
	err := r.guard(label, func() error {
		var err error
		parts, err = fn()
		return err
	})
	if err != nil {
		parts = []string{unset}
	}
	r.lw.Text(label, parts...)
}

// jsonFn writes the cleaned, encoded value returned by fn, or fallback when
// fn or the encoding fails.
func (r *run) jsonFn(label, fallback string, fn func() (any, error)) {
	var raw []byte
	err := r.guard(label, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		raw, err = output.MarshalJSON(Clean(v))
		return err
	})
	if err != nil {
		raw = []byte(fallback)
	}
	r.lw.JSON(label, raw)
}

// guard runs one field producer inside a trace region and turns panics into
// errors, logging any failure.
func (r *run) guard(label string, fn func() error) (err error) {
	endRegion := tracing.StartRegion(r.ctx, label)
	defer endRegion()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"field": label,
				"error": err,
			}).Warn("Report field degraded")
		}
	}()
	return fn()
}

// scan writes the hash map of one directory. A missing directory renders as
// an empty object.
func (r *run) scan(hs hashScan) {
	var raw []byte
	err := r.guard(hs.label, func() error {
		if hs.root == "" {
			return fmt.Errorf("no directory configured")
		}
		res, err := r.g.scanner.Scan(r.ctx, hs.root, hs.pattern, hs.recursive)
		if errors.Is(err, scanner.ErrNotADirectory) {
			logger.Debugf("%s: %v", hs.label, err)
			raw = []byte("{}")
			return nil
		}
		if err != nil {
			return err
		}
		raw, err = res.MarshalJSON()
		return err
	})
	if err != nil {
		raw = []byte("{}")
	}
	r.lw.JSON(hs.label, raw)
}

// htaccess writes the contents of the site's .htaccess as a JSON string.
func (r *run) htaccess() {
	path := r.docroot + "/.htaccess"
	if r.docroot != r.install {
		path = r.install + "/.htaccess"
	}
	raw := []byte(`"` + missingConfig + `"`)
	_ = r.guard("HTACCESS", func() error {
		if r.install == "" && r.docroot == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		encoded, err := output.MarshalJSON(string(data))
		if err != nil {
			return err
		}
		raw = encoded
		return nil
	})
	r.lw.JSON("HTACCESS", raw)
}

func (r *run) lastQuery() {
	last := SanitizeTimestamp(r.req.LastQuery)
	now := r.g.now()
	r.lw.Text("LAST_QUERY",
		FormatATOM(last),
		strconv.FormatInt(last, 10),
		strconv.FormatInt(now.Unix()-last, 10),
	)
}

// under joins sub onto base, or returns "" when base is unknown.
func under(base, sub string) string {
	if base == "" {
		return ""
	}
	return filepath.Join(base, sub)
}

func orSentinel(v, sentinel string) string {
	if v == "" {
		return sentinel
	}
	return v
}

func listOrEmpty[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

// assocOrEmpty renders an empty keyed list as [], which is how an empty
// associative array encodes on the PHP side.
func assocOrEmpty[K comparable, V any](m map[K]V) any {
	if len(m) == 0 {
		return []any{}
	}
	return m
}

func orEmptyObject(v any) any {
	if v == nil {
		return map[string]any{}
	}
	return v
}
