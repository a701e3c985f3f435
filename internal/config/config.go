// Package config assembles the pipeline configuration once, at startup.
// Secrets come from the environment, job parameters from an optional YAML
// file, and nothing network-facing runs until Load has succeeded.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment keys.
const (
	EnvAPIKey         = "TE_API_KEY"
	EnvStoreDSN       = "STORE_DSN"
	EnvStoreKind      = "STORE_KIND"      // optional, default "postgres"
	EnvMetricsBackend = "METRICS_BACKEND" // optional, "datadog" or "none"
	EnvMetricsTags    = "METRICS_TAGS"    // optional, CSV of extra tags
)

// Country pairs an API query name with its ISO 3166-1 alpha-3 code.
type Country struct {
	Name string `yaml:"name"`
	Code string `yaml:"code"`
}

// Job holds the parameters of one pipeline run, loadable from YAML.
type Job struct {
	BaseURL        string            `yaml:"base_url"`
	Countries      []Country         `yaml:"countries"`
	Indicators     []string          `yaml:"indicators"`
	IndicatorNames map[string]string `yaml:"indicator_names"`
	StartDate      string            `yaml:"start_date"` // 2006-01-02; default: 5 years back
	EndDate        string            `yaml:"end_date"`   // 2006-01-02; default: today
	MinInterval    time.Duration     `yaml:"min_interval"`
	Cooldown       time.Duration     `yaml:"cooldown"`
	LeaseTTL       time.Duration     `yaml:"lease_ttl"`
}

// Config is everything a binary needs, resolved and validated.
type Config struct {
	APIKey         string
	StoreKind      string
	StoreDSN       string
	MetricsBackend string
	MetricsTags    string

	Job Job

	Start time.Time
	End   time.Time
}

// DefaultJob returns the built-in job parameters: the four tracked
// economies, the four tracked indicator categories, and their display names.
func DefaultJob() Job {
	return Job{
		BaseURL: "https://api.tradingeconomics.com",
		Countries: []Country{
			{Name: "sweden", Code: "SWE"},
			{Name: "mexico", Code: "MEX"},
			{Name: "new zealand", Code: "NZL"},
			{Name: "thailand", Code: "THA"},
		},
		Indicators: []string{"gdp", "inflation cpi", "unemployment rate", "trade balance"},
		IndicatorNames: map[string]string{
			"gdp":               "GDP",
			"inflation cpi":     "Consumer Price Index CPI",
			"unemployment rate": "Unemployment Rate",
			"trade balance":     "Balance of Trade",
		},
		MinInterval: time.Second,
		Cooldown:    2 * time.Second,
		LeaseTTL:    15 * time.Minute,
	}
}

// Load resolves configuration from the environment and, when jobFile is
// non-empty, a YAML job file. getenv and now are seams; pass os.Getenv and
// time.Now outside tests. needAPIKey is set by jobs that talk to the API;
// store-only jobs (transform, validate) run without TE_API_KEY.
//
// Load collects every problem it finds and returns them as a single error,
// so an operator fixes one deploy, not one variable per deploy.
func Load(jobFile string, getenv func(string) string, now func() time.Time, needAPIKey bool) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if now == nil {
		now = time.Now
	}

	var problems []string

	cfg := &Config{
		APIKey:         strings.TrimSpace(getenv(EnvAPIKey)),
		StoreDSN:       strings.TrimSpace(getenv(EnvStoreDSN)),
		StoreKind:      strings.TrimSpace(getenv(EnvStoreKind)),
		MetricsBackend: strings.TrimSpace(getenv(EnvMetricsBackend)),
		MetricsTags:    strings.TrimSpace(getenv(EnvMetricsTags)),
		Job:            DefaultJob(),
	}

	if needAPIKey && cfg.APIKey == "" {
		problems = append(problems, "missing env "+EnvAPIKey)
	}
	if cfg.StoreDSN == "" {
		problems = append(problems, "missing env "+EnvStoreDSN)
	}
	if cfg.StoreKind == "" {
		cfg.StoreKind = "postgres"
	}
	switch cfg.MetricsBackend {
	case "":
		cfg.MetricsBackend = "none"
	case "datadog", "none":
	default:
		problems = append(problems, fmt.Sprintf("env %s must be datadog or none, got %q", EnvMetricsBackend, cfg.MetricsBackend))
	}

	if jobFile != "" {
		if err := loadJobFile(jobFile, &cfg.Job); err != nil {
			problems = append(problems, err.Error())
		}
	}
	problems = append(problems, validateJob(&cfg.Job)...)

	start, end, dateProblems := resolveDates(cfg.Job, now)
	cfg.Start, cfg.End = start, end
	problems = append(problems, dateProblems...)

	if len(problems) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

// loadJobFile overlays YAML values onto the defaults already in job.
// Unknown fields are rejected so typos fail loudly.
func loadJobFile(path string, job *Job) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("job file %s: %v", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(job); err != nil {
		return fmt.Errorf("job file %s: %v", path, err)
	}
	return nil
}

func validateJob(job *Job) []string {
	var problems []string

	if job.BaseURL == "" {
		job.BaseURL = DefaultJob().BaseURL
	}
	if job.MinInterval <= 0 {
		job.MinInterval = time.Second
	}
	if job.Cooldown <= 0 {
		job.Cooldown = 2 * time.Second
	}
	if job.LeaseTTL <= 0 {
		job.LeaseTTL = 15 * time.Minute
	}

	if len(job.Countries) == 0 {
		problems = append(problems, "job: countries list is empty")
	}
	for i, c := range job.Countries {
		if strings.TrimSpace(c.Name) == "" {
			problems = append(problems, fmt.Sprintf("job: countries[%d]: name is empty", i))
		}
		if len(c.Code) != 3 || c.Code != strings.ToUpper(c.Code) {
			problems = append(problems, fmt.Sprintf("job: countries[%d]: code %q is not ISO3", i, c.Code))
		}
	}
	if len(job.Indicators) == 0 {
		problems = append(problems, "job: indicators list is empty")
	}

	return problems
}

func resolveDates(job Job, now func() time.Time) (start, end time.Time, problems []string) {
	today := now().UTC().Truncate(24 * time.Hour)

	end = today
	if job.EndDate != "" {
		t, err := time.Parse("2006-01-02", job.EndDate)
		if err != nil {
			problems = append(problems, fmt.Sprintf("job: end_date %q is not YYYY-MM-DD", job.EndDate))
		} else {
			end = t
		}
	}

	start = end.AddDate(-5, 0, 0)
	if job.StartDate != "" {
		t, err := time.Parse("2006-01-02", job.StartDate)
		if err != nil {
			problems = append(problems, fmt.Sprintf("job: start_date %q is not YYYY-MM-DD", job.StartDate))
		} else {
			start = t
		}
	}

	if !start.Before(end) {
		problems = append(problems, fmt.Sprintf("job: start_date %s is not before end_date %s",
			start.Format("2006-01-02"), end.Format("2006-01-02")))
	}
	return start, end, problems
}
