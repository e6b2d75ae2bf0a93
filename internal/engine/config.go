package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ConfigTemplate is the ordered key set rendered into the FinDer
// configuration file. DATA_FOLDER is substituted with the per-run working
// directory at render time.
type ConfigTemplate map[string]string

// DefaultConfigTemplate returns the stock template. Resource paths are
// resolved relative to the resource root given in the runner options.
func DefaultConfigTemplate(resourceDir, gmtDir string) ConfigTemplate {
	return ConfigTemplate{
		"THRESHOLDS":                          "9 2.0 4.6 10.5 23.2 48.6 90.7 148.8 221.3 304.5",
		"TEMPLATE_DIRECTORY":                  filepath.Join(resourceDir, "Templates_PGA_20161020_CH2009_resolution_5"),
		"TEMPLATE_ID_FILE":                    filepath.Join(resourceDir, "template.config"),
		"D_DEG":                               "5.0",
		"MIN_DEG":                             "0.0",
		"MAX_DEG":                             "175.0",
		"MIN_LENGTH":                          "0.0",
		"MAX_LENGTH":                          "300.0",
		"DEFAULT_DEPTH":                       "10.0",
		"DEFAULT_DEPTH_UNCER":                 "5.0",
		"MAG_OPTION":                          "1",
		"RUN_SPEED":                           "fast",
		"REGIONAL_MASK":                       filepath.Join(gmtDir, "Switzerland_mask_20161012.nc"),
		"MASK_STATION_DISTANCE":               "75.0",
		"MIN_TRIGGER_STATIONS":                "2",
		"TRIGGER_RADIUS":                      "50.0",
		"USE_FIXED_TRIGRAD":                   "yes",
		"MAX_STATION_TRIGRAD":                 "150.0",
		"SECONDARY_NETWORKS":                  "2 CE CSN",
		"BORDER_DEGREES":                      "1.0",
		"IMAGE_PIXELS":                        "10",
		"MAX_IMAGE_PIXELS":                    "50",
		"MIN_LIKELIHOOD_ESTIMATE_FOR_MESSAGE": "0.65",
		"SIGMA_LENGTH":                        "1.0",
		"SIGMA_AZIMUTH":                       "1.0",
		"SIGMA_LATLON":                        "1.0",
		"MAX_RUPTURES":                        "30",
		"GMT_API_OPTION":                      "yes",
		"GMT_PREFIX":                          "---",
		"GMT_PLOT":                            "no",
		"COLOR_SCALE":                         filepath.Join(gmtDir, "log_pga_wald.cpt"),
		"FAULT_DEFINITIONS":                   filepath.Join(gmtDir, "jennings.xy"),
		"STATION_CONFIG":                      "---",
		"GMT_FOLDER":                          gmtDir,
		"DATA_FOLDER":                         "<PATH>",
		"EPI_FAULT_DIST_THRESH":               "100.",
		"MAG_REGRESSION_THRESH":               "5.5",
		"STOP_LENGTH_DECREASE_PC":             "0.2",
		"RESTART_LENGTH_INCREASE_PC":          "0.0001",
		"UNCERTAINTY_METHOD":                  "0",
	}
}

// Render writes the template as "KEY value" lines with DATA_FOLDER pointed
// at the working directory. Keys are emitted sorted so the output is
// stable across runs.
func (t ConfigTemplate) Render(workDir string) []byte {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v := t[k]
		if k == "DATA_FOLDER" {
			v = workDir
		}
		fmt.Fprintf(&b, "%s %s\n", k, v)
	}
	return []byte(b.String())
}

// WriteConfig materializes the configuration file inside the working
// directory and returns its path.
func (t ConfigTemplate) WriteConfig(workDir string) (string, error) {
	path := filepath.Join(workDir, "finder.config")
	if err := os.WriteFile(path, t.Render(workDir), 0o644); err != nil {
		return "", fmt.Errorf("write engine config: %w", err)
	}
	return path, nil
}
