package wpcli

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/mod/semver"

	"github.com/ivan2020J/nozier/internal/update"
)

const coreID = "core-wordpress"

// Client adapts WP-CLI to the update package's collaborator interfaces. It
// is a Source, a CoreUpgrader and a file-modification policy.
type Client struct {
	runner   Runner
	root     string
	disallow bool
	logger   *zap.Logger

	// writable reports whether the installation root can be modified.
	writable func(path string) error
}

// NewClient creates a Client that issues commands through runner.
func NewClient(runner Runner, cfg Config, logger *zap.Logger) *Client {
	root := cfg.Path
	if root == "" {
		root = "."
	}
	return &Client{
		runner:   runner,
		root:     root,
		disallow: cfg.DisallowFileMods,
		logger:   logger.With(zap.String("component", "wpcli")),
		writable: checkWritable,
	}
}

// Upgraders returns the capability set for batches. Core targets are
// routed through UpdateCore.
func (c *Client) Upgraders() update.Upgraders {
	return update.Upgraders{
		update.KindCore:   update.CoreTarget(c),
		update.KindPlugin: update.UpgraderFunc(c.updatePlugin),
		update.KindTheme:  update.UpgraderFunc(c.updateTheme),
	}
}

// Versions reports the PHP, database and WordPress versions.
func (c *Client) Versions(ctx context.Context) (update.Versions, error) {
	var v update.Versions

	out, err := c.runner.Run(ctx, "cli", "info", "--format=json")
	if err != nil {
		return v, fmt.Errorf("read php version: %w", err)
	}
	info, ok, err := decodeOutput(out)
	if err != nil {
		return v, fmt.Errorf("read php version: %w", err)
	}
	if ok {
		res, err := runQuery(phpVersionQuery, info)
		if err != nil {
			return v, fmt.Errorf("read php version: %w", err)
		}
		if len(res) > 0 {
			v.Language = stringValue(res[0])
		}
	}

	out, err = c.runner.Run(ctx, "db", "query", "SELECT VERSION()", "--skip-column-names")
	if err != nil {
		return v, fmt.Errorf("read database version: %w", err)
	}
	v.Database = strings.TrimSpace(string(out))

	if v.Platform, err = c.coreVersion(ctx); err != nil {
		return v, err
	}
	return v, nil
}

// ListUpdates reports pending plugin, theme and core updates. Entries whose
// available version is not newer than the installed one are dropped.
func (c *Client) ListUpdates(ctx context.Context) ([]update.Descriptor, error) {
	var all []update.Descriptor
	for _, kind := range []update.Kind{update.KindPlugin, update.KindTheme} {
		ds, err := c.listExtensionUpdates(ctx, kind)
		if err != nil {
			return nil, err
		}
		all = append(all, ds...)
	}

	current, err := c.coreVersion(ctx)
	if err != nil {
		return nil, err
	}
	available, err := c.coreUpdate(ctx)
	if err != nil {
		return nil, err
	}
	if available != "" {
		all = append(all, update.Descriptor{
			ID:        coreID,
			Name:      "WordPress",
			Current:   current,
			Available: available,
		})
	}

	filtered := all[:0]
	for _, d := range all {
		if newer(d.Available, d.Current) {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

func (c *Client) listExtensionUpdates(ctx context.Context, kind update.Kind) ([]update.Descriptor, error) {
	out, err := c.runner.Run(ctx, kind.String(), "list",
		"--update=available",
		"--fields=name,title,version,update_version",
		"--format=json",
	)
	if err != nil {
		return nil, fmt.Errorf("list %s updates: %w", kind, err)
	}
	doc, ok, err := decodeOutput(out)
	if err != nil {
		return nil, fmt.Errorf("list %s updates: %w", kind, err)
	}
	if !ok {
		return nil, nil
	}

	res, err := runQuery(extensionUpdatesQuery, doc, kind.Prefix())
	if err != nil {
		return nil, fmt.Errorf("list %s updates: %w", kind, err)
	}
	ds := make([]update.Descriptor, 0, len(res))
	for _, r := range res {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		ds = append(ds, update.Descriptor{
			ID:        stringValue(m["id"]),
			Name:      stringValue(m["name"]),
			Current:   stringValue(m["current"]),
			Available: stringValue(m["available"]),
		})
	}
	return ds, nil
}

func (c *Client) coreVersion(ctx context.Context) (string, error) {
	out, err := c.runner.Run(ctx, "core", "version")
	if err != nil {
		return "", fmt.Errorf("read core version: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// coreUpdate returns the newest core release offered, or "" when the core
// is up to date.
func (c *Client) coreUpdate(ctx context.Context) (string, error) {
	out, err := c.runner.Run(ctx, "core", "check-update", "--format=json")
	if err != nil {
		return "", fmt.Errorf("check core update: %w", err)
	}
	doc, ok, err := decodeOutput(out)
	if err != nil {
		return "", fmt.Errorf("check core update: %w", err)
	}
	if !ok {
		return "", nil
	}
	res, err := runQuery(coreUpdateQuery, doc)
	if err != nil {
		return "", fmt.Errorf("check core update: %w", err)
	}
	if len(res) == 0 {
		return "", nil
	}
	return stringValue(res[0]), nil
}

// UpdateCore upgrades WordPress to the newest release and migrates its
// database.
func (c *Client) UpdateCore(ctx context.Context) (update.CoreResult, error) {
	if err := c.writable(c.root); err != nil {
		c.logger.Warn("installation root not writable", zap.String("path", c.root), zap.Error(err))
		return update.CoreResult{Reason: update.ReasonFilesystemNotWritable}, nil
	}

	available, err := c.coreUpdate(ctx)
	if err != nil {
		return update.CoreResult{}, err
	}
	if available == "" {
		return update.CoreResult{Reason: update.ReasonNoUpdateAvailable}, nil
	}

	if _, err := c.runner.Run(ctx, "core", "update"); err != nil {
		return update.CoreResult{}, fmt.Errorf("update core to %s: %w", available, err)
	}
	if _, err := c.runner.Run(ctx, "core", "update-db"); err != nil {
		return update.CoreResult{}, fmt.Errorf("update core database: %w", err)
	}

	version, err := c.coreVersion(ctx)
	if err != nil || version == "" {
		c.logger.Warn("could not confirm core version after update", zap.Error(err))
		version = available
	}
	return update.CoreResult{Updated: true, Version: version}, nil
}

// FileModsAllowed reports whether upgrades may modify files. The static
// configuration flag and the DISALLOW_FILE_MODS constant both forbid them.
func (c *Client) FileModsAllowed(ctx context.Context) (bool, error) {
	if c.disallow {
		return false, nil
	}
	out, err := c.runner.Run(ctx, "config", "list", "--fields=name,value,type", "--format=json")
	if err != nil {
		return false, fmt.Errorf("read wp-config constants: %w", err)
	}
	doc, ok, err := decodeOutput(out)
	if err != nil {
		return false, fmt.Errorf("read wp-config constants: %w", err)
	}
	if !ok {
		return true, nil
	}
	res, err := runQuery(fileModsQuery, doc)
	if err != nil {
		return false, fmt.Errorf("read wp-config constants: %w", err)
	}
	for _, v := range res {
		if truthy(v) {
			return false, nil
		}
	}
	return true, nil
}

// updatePlugin upgrades one plugin and re-activates it if the upgrade left
// it inactive. The upgrade counts as applied even when re-activation fails;
// that failure is logged for the site owner.
func (c *Client) updatePlugin(ctx context.Context, identifier string) (bool, error) {
	slug := pluginSlug(identifier)

	before, err := c.pluginStatus(ctx, slug)
	if err != nil {
		return false, err
	}

	updated, err := c.updateExtension(ctx, update.KindPlugin, slug)
	if err != nil || !updated {
		return updated, err
	}

	if before != "active" && before != "active-network" {
		return true, nil
	}
	after, err := c.pluginStatus(ctx, slug)
	if err != nil {
		c.logger.Error("plugin updated but its status could not be read",
			zap.String("plugin", slug), zap.String("status_before", before), zap.Error(err))
		return true, nil
	}
	if after == before {
		return true, nil
	}

	args := []string{"plugin", "activate", slug}
	if before == "active-network" {
		args = append(args, "--network")
	}
	if _, err := c.runner.Run(ctx, args...); err != nil {
		c.logger.Error("plugin updated but could not be re-activated",
			zap.String("plugin", slug), zap.String("status_before", before), zap.Error(err))
		return true, nil
	}
	c.logger.Info("re-activated plugin after update", zap.String("plugin", slug))
	return true, nil
}

func (c *Client) pluginStatus(ctx context.Context, slug string) (string, error) {
	out, err := c.runner.Run(ctx, "plugin", "get", slug, "--field=status")
	if err != nil {
		return "", fmt.Errorf("read plugin %s status: %w", slug, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *Client) updateTheme(ctx context.Context, identifier string) (bool, error) {
	return c.updateExtension(ctx, update.KindTheme, identifier)
}

func (c *Client) updateExtension(ctx context.Context, kind update.Kind, slug string) (bool, error) {
	out, err := c.runner.Run(ctx, kind.String(), "update", slug, "--format=json")
	if err != nil {
		return false, fmt.Errorf("update %s %s: %w", kind, slug, err)
	}
	doc, ok, err := decodeOutput(out)
	if err != nil {
		return false, fmt.Errorf("update %s %s: %w", kind, slug, err)
	}
	if !ok {
		return false, nil
	}
	res, err := runQuery(updatedQuery, doc)
	if err != nil {
		return false, fmt.Errorf("update %s %s: %w", kind, slug, err)
	}
	return len(res) > 0 && res[0] == true, nil
}

// pluginSlug accepts both WP-CLI slugs ("akismet") and plugin file paths
// ("akismet/akismet.php", "hello.php").
func pluginSlug(identifier string) string {
	if dir, _, ok := strings.Cut(identifier, "/"); ok {
		return dir
	}
	return strings.TrimSuffix(identifier, ".php")
}

// newer reports whether available should be offered over current. Versions
// that are not semver are compared for inequality only.
func newer(available, current string) bool {
	if available == "" {
		return false
	}
	a, b := "v"+available, "v"+current
	if semver.IsValid(a) && semver.IsValid(b) {
		return semver.Compare(a, b) > 0
	}
	return available != current
}
