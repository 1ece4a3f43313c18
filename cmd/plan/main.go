// Command plan solves one pickup-and-delivery instance read from a YAML file
// and prints the per-carrier routes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"carrierplan/internal/config"
	"carrierplan/internal/model"
	"carrierplan/internal/opt"
	"carrierplan/internal/planner"
	"carrierplan/internal/store"
)

func main() {
	var (
		instancePath = flag.String("instance", "", "YAML instance file (topology, carriers, tasks)")
		configPath   = flag.String("config", "", "optional service config for optimizer defaults")
		budget       = flag.Duration("budget", 0, "search time budget (default from config)")
		seed         = flag.Int64("seed", 0, "random seed (0 picks one)")
		policy       = flag.String("policy", "", "acceptance policy: fixed or annealing")
		asJSON       = flag.Bool("json", false, "print the plan as JSON")
		verbose      = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()
	if *instancePath == "" {
		fmt.Fprintln(os.Stderr, "usage: plan -instance file.yaml [-budget 2s] [-seed N] [-policy fixed|annealing] [-json]")
		os.Exit(2)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *verbose {
		cfg.LogLevel = "debug"
	}
	cfg.ConfigureLogging()

	req, err := readInstance(*instancePath)
	if err != nil {
		log.Fatal(err)
	}
	if *budget > 0 {
		req.TimeBudgetMs = int(budget.Milliseconds())
	}
	if *seed != 0 {
		req.Seed = seed
	}
	if *policy != "" {
		acc := cfg.Optimizer.Acceptance
		acc.Policy = opt.Policy(strings.ToLower(*policy))
		req.Acceptance = &acc
	}

	st := store.NewMemory()
	svc := planner.New(st, cfg.Optimizer, planner.Options{})
	start := time.Now()
	pl, err := svc.Plan(context.Background(), "cli", req)
	if err != nil {
		log.Fatalf("plan: %v", err)
	}
	pms, _ := st.ListPlanMetrics(context.Background(), "cli", pl.ID, "")
	if *asJSON {
		out := map[string]any{"plan": pl}
		if len(pms) == 1 {
			out["metrics"] = pms[0]
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}
	printPlan(os.Stdout, pl)
	if len(pms) == 1 {
		m := pms[0]
		fmt.Printf("\n%d iterations, initial %.2f, best %.2f (%s, %v)\n", m.Iterations, m.InitialCost, m.BestCost, m.Policy, time.Since(start).Round(time.Millisecond))
	}
}

func readInstance(path string) (model.PlanRequest, error) {
	var req model.PlanRequest
	b, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("read instance: %w", err)
	}
	if err := yaml.Unmarshal(b, &req); err != nil {
		return req, fmt.Errorf("parse instance %s: %w", path, err)
	}
	return req, nil
}

func printPlan(w io.Writer, pl model.Plan) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CARRIER\tCOST\tSTOPS")
	for _, r := range pl.Routes {
		stops := make([]string, len(r.Stops))
		for i, st := range r.Stops {
			verb := "P"
			if st.Kind == "delivery" {
				verb = "D"
			}
			stops[i] = fmt.Sprintf("%s:%s@%s", verb, st.TaskID, st.Location)
		}
		fmt.Fprintf(tw, "%s\t%.2f\t%s\n", r.CarrierID, r.Cost, strings.Join(stops, " "))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "total cost %.2f\n", pl.TotalCost)
}
