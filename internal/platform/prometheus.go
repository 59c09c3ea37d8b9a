package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusName is the platform name of the textfile exporter.
const PrometheusName = "prometheus"

const defaultTextfile = "balscan_issues.prom"

// Prometheus writes the issue counts of a scan in the node_exporter
// textfile format. The platform path is the textfile collector directory;
// the "file" argument overrides the file name.
type Prometheus struct{}

// NewPrometheus creates the textfile platform.
func NewPrometheus() *Prometheus {
	return &Prometheus{}
}

func (p *Prometheus) Name() string {
	return PrometheusName
}

func (p *Prometheus) Report(_ context.Context, c Context) error {
	info, err := os.Stat(c.Path)
	if err != nil {
		return fmt.Errorf("textfile directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("textfile directory: %s is not a directory", c.Path)
	}

	name := defaultTextfile
	if v, ok := c.Args["file"].(string); ok && v != "" {
		name = filepath.Base(v)
	}

	reg := prometheus.NewRegistry()
	issues := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "balscan_issues",
		Help: "Issues found by the last scan, by rule and file.",
	}, []string{"project", "rule", "kind", "source", "file"})
	files := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "balscan_scanned_files",
		Help: "Source files in the last scanned project.",
	}, []string{"project"})
	reg.MustRegister(issues, files)

	projectName := ""
	if c.Project != nil {
		projectName = c.Project.Name
		files.WithLabelValues(projectName).Set(float64(len(c.Project.Documents)))
	}
	for _, i := range c.Issues {
		issues.WithLabelValues(projectName, i.Rule.ID, i.Rule.Kind.String(), string(i.Source), i.Location.FilePath).Inc()
	}

	if err := prometheus.WriteToTextfile(filepath.Join(c.Path, name), reg); err != nil {
		return fmt.Errorf("write textfile: %w", err)
	}
	return nil
}
