package update

import (
	"context"
)

// Upgrader installs the latest version of one software unit. It reports
// false when nothing was upgraded and an error when the attempt failed.
// Implementations mutate the host and are not assumed to be reentrant.
type Upgrader interface {
	Update(ctx context.Context, identifier string) (bool, error)
}

// UpgraderFunc adapts a function to Upgrader.
type UpgraderFunc func(ctx context.Context, identifier string) (bool, error)

func (f UpgraderFunc) Update(ctx context.Context, identifier string) (bool, error) {
	return f(ctx, identifier)
}

// Upgraders is the capability set used by a batch, keyed by target kind.
type Upgraders map[Kind]Upgrader

// Reason classifies why a core upgrade did not happen.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonFileModsDisallowed    Reason = "file_mods_disallowed"
	ReasonFilesystemNotWritable Reason = "filesystem_not_writable"
	ReasonNoUpdateAvailable     Reason = "no_update_available"
	ReasonUpgradeFailed         Reason = "upgrade_failed"
)

// Code returns the numeric failure code used by earlier clients, or -1 for
// ReasonNone.
func (r Reason) Code() int {
	switch r {
	case ReasonFileModsDisallowed:
		return 0
	case ReasonFilesystemNotWritable:
		return 1
	case ReasonNoUpdateAvailable:
		return 2
	case ReasonUpgradeFailed:
		return 4
	default:
		return -1
	}
}

// CoreResult is the outcome of a core upgrade. Version is set when Updated.
type CoreResult struct {
	Updated bool
	Version string
	Reason  Reason
}

// CoreUpgrader upgrades the platform core to the newest available release.
type CoreUpgrader interface {
	UpdateCore(ctx context.Context) (CoreResult, error)
}

// CoreTarget exposes a CoreUpgrader as a batch Upgrader so that "core-..."
// targets can appear in a batch. The identifier is ignored.
func CoreTarget(c CoreUpgrader) Upgrader {
	return UpgraderFunc(func(ctx context.Context, _ string) (bool, error) {
		res, err := c.UpdateCore(ctx)
		if err != nil {
			return false, err
		}
		return res.Updated, nil
	})
}

// Versions is the runtime version triple of the managed host.
type Versions struct {
	Language string
	Database string
	Platform string
}

// Descriptor is one pending update.
type Descriptor struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Current   string `json:"current"`
	Available string `json:"available"`
}

// Source reports the host's versions and the updates currently available.
type Source interface {
	Versions(ctx context.Context) (Versions, error)
	ListUpdates(ctx context.Context) ([]Descriptor, error)
}
