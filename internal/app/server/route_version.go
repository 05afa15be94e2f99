package server

import (
	"net/http"

	"subgate/internal/api/dto"
	"subgate/internal/app/version"
	"subgate/internal/config"
)

func (a *api) getVersion(w http.ResponseWriter, _ *http.Request) {
	build := a.deps.BuildInfo
	if build == (config.BuildInfo{}) {
		build = config.GetBuildInfo()
	}
	writeJSON(w, http.StatusOK, dto.VersionInfo{
		Info:         version.Get(),
		Build:        build,
		Xray:         build.IsXray(),
		GoogleFlavor: build.IsGoogleFlavor(),
	})
}
