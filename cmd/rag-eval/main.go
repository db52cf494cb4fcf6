package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kirillkom/knowledge-qa/internal/bootstrap"
	"github.com/kirillkom/knowledge-qa/internal/config"
	"github.com/kirillkom/knowledge-qa/internal/core/usecase"
)

type scenarioFile struct {
	Scenarios []usecase.EvalScenario `yaml:"scenarios"`
}

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run returns 1 when a hallucination is detected and 2 on usage or input errors.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("rag-eval", flag.ContinueOnError)
	fs.SetOutput(stderr)
	scenariosPath := fs.String("scenarios", "", "YAML file replacing the built-in scenarios")
	sectionBoost := fs.Bool("section-boost", false, "honor same_doc_section_boost when classifying weak contexts")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	thresholds, err := loadThresholds()
	if err != nil {
		fmt.Fprintf(stderr, "rag-eval: %v\n", err)
		return 2
	}

	scenarios := usecase.DefaultEvalScenarios()
	if *scenariosPath != "" {
		scenarios, err = loadScenarios(*scenariosPath)
		if err != nil {
			fmt.Fprintf(stderr, "rag-eval: %v\n", err)
			return 2
		}
	}
	if !*sectionBoost {
		for i := range scenarios {
			scenarios[i].SectionBoost = false
		}
	}

	summary := usecase.EvaluateAll(scenarios, thresholds)
	printSummary(stdout, summary)
	if summary.Hallucinations > 0 {
		return 1
	}
	return 0
}

// loadThresholds uses the same tunables as the running service.
func loadThresholds() (usecase.Thresholds, error) {
	cfg, err := config.Load()
	if err != nil {
		return usecase.Thresholds{}, err
	}
	opts, err := bootstrap.QAOptions(cfg)
	if err != nil {
		return usecase.Thresholds{}, err
	}
	return opts.Thresholds, nil
}

func loadScenarios(path string) ([]usecase.EvalScenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenarios: %w", err)
	}
	var file scenarioFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse scenarios %s: %w", path, err)
	}
	if len(file.Scenarios) == 0 {
		return nil, errors.New("scenario file has no scenarios")
	}
	return file.Scenarios, nil
}

var modeColors = map[usecase.EvalMode]*color.Color{
	usecase.EvalModeNormal:      color.New(color.FgGreen),
	usecase.EvalModeRefusal:     color.New(color.FgYellow),
	usecase.EvalModeWeakContext: color.New(color.FgCyan),
	usecase.EvalModeDegraded:    color.New(color.FgMagenta),
}

func printSummary(w io.Writer, summary usecase.EvalSummary) {
	bad := color.New(color.FgRed, color.Bold)

	fmt.Fprintf(w, "%-4s %-14s %-8s %-8s %-13s %s\n", "ID", "EXPECTATION", "TOP1", "TOP3AVG", "MODE", "DESCRIPTION")
	for _, r := range summary.Results {
		mode := fmt.Sprintf("%-13s", r.Mode)
		if c, ok := modeColors[r.Mode]; ok {
			mode = c.Sprint(mode)
		}
		line := fmt.Sprintf("%-4d %-14s %-8.3f %-8.3f %s %s",
			r.Scenario.ID, r.Scenario.Expectation, r.Quality.Top1, r.Quality.Top3Avg, mode, r.Scenario.Description)
		if r.Hallucination {
			line += " " + bad.Sprint("HALLUCINATION")
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w, strings.Repeat("-", 60))
	for _, mode := range []usecase.EvalMode{
		usecase.EvalModeNormal,
		usecase.EvalModeRefusal,
		usecase.EvalModeWeakContext,
		usecase.EvalModeDegraded,
	} {
		fmt.Fprintf(w, "%-13s %3d  %5.1f%%\n", mode, summary.ModeCounts[mode], summary.ModeRatio(mode))
	}
	hallucinations := fmt.Sprintf("hallucinations: %d", summary.Hallucinations)
	if summary.Hallucinations > 0 {
		hallucinations = bad.Sprint(hallucinations)
	}
	fmt.Fprintln(w, hallucinations)
}
