package dto

import (
	"subgate/internal/app/version"
	"subgate/internal/config"
)

type VersionInfo struct {
	version.Info
	Build        config.BuildInfo `json:"build"`
	Xray         bool             `json:"xray"`
	GoogleFlavor bool             `json:"googleFlavor"`
}
