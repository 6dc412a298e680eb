package model

import (
	"strconv"
	"strings"
)

// ReleaseMethod records how a package entered a deployment's history.
type ReleaseMethod string

const (
	ReleaseMethodUpload   ReleaseMethod = "Upload"
	ReleaseMethodPromote  ReleaseMethod = "Promote"
	ReleaseMethodRollback ReleaseMethod = "Rollback"
)

// Package is one committed release within a deployment's history. Once
// committed it is immutable except for the disable/mandatory/rollout edits
// applied by explicit update operations.
type Package struct {
	Label              string        `json:"label"`
	AppVersion         string        `json:"appVersion"`
	PackageHash        string        `json:"packageHash"`
	BlobURL            string        `json:"blobUrl"`
	ManifestBlobURL    string        `json:"manifestBlobUrl,omitempty"`
	Description        string        `json:"description,omitempty"`
	IsDisabled         bool          `json:"isDisabled"`
	IsMandatory        bool          `json:"isMandatory"`
	Rollout            *int          `json:"rollout,omitempty"` // nil means 100
	Size               int64         `json:"size"`
	ReleaseMethod      ReleaseMethod `json:"releaseMethod,omitempty"`
	OriginalLabel      string        `json:"originalLabel,omitempty"`
	OriginalDeployment string        `json:"originalDeployment,omitempty"`
	ReleasedBy         string        `json:"releasedBy,omitempty"`
	UploadTime         int64         `json:"uploadTime"`
}

// IsFullRollout reports whether the package is visible to all clients.
func (p *Package) IsFullRollout() bool {
	return p.Rollout == nil || *p.Rollout >= 100
}

// PackageHistory holds the ordered release list for one deployment,
// newest first. It is a separate record so history can be looked up by
// deployment key without loading the owning app.
//
// LabelCounter is the highest numeric label suffix ever assigned in this
// history. It survives ClearPackageHistory so labels are never reused.
type PackageHistory struct {
	DeploymentID  string    `json:"deploymentId"`
	DeploymentKey string    `json:"deploymentKey"`
	AppID         string    `json:"appId"`
	LabelCounter  int       `json:"labelCounter"`
	Packages      []Package `json:"packages"`
}

// Latest returns the newest package in the history, or nil when empty.
func (h *PackageHistory) Latest() *Package {
	if len(h.Packages) == 0 {
		return nil
	}
	return &h.Packages[0]
}

// LabelNumber parses the numeric suffix of a "vN" label. Returns 0 for
// anything that does not match the scheme.
func LabelNumber(label string) int {
	if !strings.HasPrefix(label, "v") {
		return 0
	}
	n, err := strconv.Atoi(label[1:])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// FormatLabel renders a numeric label suffix as "vN".
func FormatLabel(n int) string {
	return "v" + strconv.Itoa(n)
}
