package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ivan2020J/nozier/internal/server"
	"github.com/ivan2020J/nozier/internal/update"
)

// FetchResponse describes the host's versions and pending updates.
// @Description Version triple of the managed host and its pending updates.
type FetchResponse struct {
	LanguageVersion string              `json:"language_version" example:"8.2.12"`
	DBVersion       string              `json:"db_version" example:"10.11.6-MariaDB"`
	PlatformVersion string              `json:"platform_version" example:"6.4.3"`
	Updates         []update.Descriptor `json:"updates"`
}

// CoreResponse is the result of a core upgrade. Code is the numeric form of
// Reason and is present only on failure.
// @Description Result of a core upgrade attempt.
type CoreResponse struct {
	Success bool   `json:"success" example:"true"`
	Message string `json:"message" example:"Core updated."`
	Version string `json:"version,omitempty" example:"6.5.2"`
	Reason  string `json:"reason,omitempty" example:"no_update_available"`
	Code    *int   `json:"code,omitempty" example:"2"`
}

// BatchRequest lists the targets of a batch upgrade.
// @Description Targets to upgrade, as "<kind>-<identifier>" ids.
type BatchRequest struct {
	Update []string `json:"update" example:"plugin-akismet,theme-twentytwentyfour"`
}

var coreMessages = map[update.Reason]string{
	update.ReasonNone:                  "Core updated.",
	update.ReasonFileModsDisallowed:    "File modifications disabled.",
	update.ReasonFilesystemNotWritable: "Filesystem not writable.",
	update.ReasonNoUpdateAvailable:     "Core is already up-to-date.",
	update.ReasonUpgradeFailed:         "Failed to update the core.",
}

func newCoreResponse(res update.CoreResult) CoreResponse {
	resp := CoreResponse{
		Success: res.Updated,
		Message: coreMessages[res.Reason],
		Version: res.Version,
	}
	if !res.Updated {
		code := res.Reason.Code()
		resp.Reason = string(res.Reason)
		resp.Code = &code
	}
	return resp
}

// fetchStatus reports versions and pending updates.
//
//	@Summary		Fetch status
//	@Description	Returns the language, database and platform versions together with all pending updates.
//	@Tags			commands
//	@Produce		json
//	@Security		NozierSignature
//	@Success		200	{object}	FetchResponse
//	@Failure		401	"Bad token or signature"
//	@Failure		417	"Stale timestamp"
//	@Failure		422	"Missing token"
//	@Failure		503	{object}	server.Problem
//	@Router			/nozier/v1/core/fetch [get]
func (h *Handler) fetchStatus(ctx context.Context, req request) reply {
	versions, err := h.source.Versions(ctx)
	if err != nil {
		h.logger.Error("reading versions", zap.Error(err))
		return problem(server.ProblemTypeUnavailable, http.StatusServiceUnavailable,
			"version information is unavailable", req.path)
	}
	updates, err := h.source.ListUpdates(ctx)
	if err != nil {
		h.logger.Error("listing updates", zap.Error(err))
		return problem(server.ProblemTypeUnavailable, http.StatusServiceUnavailable,
			"update information is unavailable", req.path)
	}
	if updates == nil {
		updates = []update.Descriptor{}
	}

	return jsonReply(http.StatusOK, FetchResponse{
		LanguageVersion: versions.Language,
		DBVersion:       versions.Database,
		PlatformVersion: versions.Platform,
		Updates:         updates,
	})
}

// upgradeCore upgrades the platform core.
//
//	@Summary		Upgrade core
//	@Description	Upgrades the platform core to the newest release. "Nothing to do" outcomes are reported with success=false and HTTP 200.
//	@Tags			commands
//	@Produce		json
//	@Security		NozierSignature
//	@Success		200	{object}	CoreResponse
//	@Failure		401	"Bad token or signature"
//	@Failure		403	{object}	CoreResponse	"File modifications disabled"
//	@Failure		417	"Stale timestamp"
//	@Failure		422	"Missing token"
//	@Router			/nozier/v1/core/upgrade [post]
func (h *Handler) upgradeCore(ctx context.Context, _ request) reply {
	if !h.fileModsAllowed(ctx) {
		return jsonReply(http.StatusForbidden, newCoreResponse(update.CoreResult{
			Reason: update.ReasonFileModsDisallowed,
		}))
	}
	return jsonReply(http.StatusOK, newCoreResponse(h.updater.UpgradeCore(ctx)))
}

// upgradeBatch upgrades every listed target independently.
//
//	@Summary		Upgrade batch
//	@Description	Upgrades each listed plugin, theme or core target. Individual failures never abort the batch; every target appears in exactly one of succeeded or failed.
//	@Tags			commands
//	@Accept			json
//	@Produce		json
//	@Security		NozierSignature
//	@Param			request	body		BatchRequest	true	"Targets"
//	@Success		200		{object}	update.BatchReport
//	@Failure		401		"Bad token or signature"
//	@Failure		405		{object}	server.Problem	"File modifications disabled"
//	@Failure		417		"Stale timestamp"
//	@Failure		422		{object}	server.Problem	"Missing token or malformed body"
//	@Router			/nozier/v1/plugins/update [post]
func (h *Handler) upgradeBatch(ctx context.Context, req request) reply {
	if !h.fileModsAllowed(ctx) {
		return problem(server.ProblemTypeMethodNotAllowed, http.StatusMethodNotAllowed,
			"file modifications are disabled on this host", req.path)
	}

	targets, err := decodeBatch(req.body)
	if err != nil {
		h.logger.Info("malformed batch request", zap.Error(err))
		return problem(server.ProblemTypeUnprocessable, http.StatusUnprocessableEntity,
			err.Error(), req.path)
	}

	return jsonReply(http.StatusOK, h.updater.RunBatch(ctx, targets))
}

var (
	errBatchNotObject = errors.New("request body must be a JSON object")
	errBatchNoUpdate  = errors.New("update must be a non-empty list of target ids")
)

// decodeBatch extracts the target list from a batch request body.
func decodeBatch(body []byte) ([]string, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil, errBatchNotObject
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errBatchNotObject
	}
	field, ok := raw["update"]
	if !ok {
		return nil, errBatchNoUpdate
	}

	var targets []string
	if err := json.Unmarshal(field, &targets); err != nil {
		return nil, fmt.Errorf("%w: %v", errBatchNoUpdate, err)
	}
	if len(targets) == 0 {
		return nil, errBatchNoUpdate
	}
	return targets, nil
}
