/*
main.go - Command-line payslip preview

PURPOSE:
  Runs the preview coordinator against a payroll server. Each line on stdin
  is one PayPeriodInput as JSON. For every line the local payslip is printed
  immediately, followed by the authoritative or unconfirmed result.

COMMAND-LINE FLAGS:
  -url       Payroll server base URL (overrides AUTHORITY_URL)
  -timeout   Per-attempt timeout (overrides AUTHORITY_TIMEOUT_MS)
  -env       Path of the .env file (default: .env)

  JURISDICTIONS_FILE is applied exactly as the server applies it.

EXAMPLE:
  echo '{"subject_id":"emp-1","jurisdiction":{"region":"ca","subregion":"ON"},
         "pay_frequency":"biweekly","hours_worked":"40","hourly_rate":"25"}' \
    | ./preview -url=http://localhost:8080
*/
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/warp/payroll-engine/client"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/logger"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/preview"
	"go.uber.org/zap"
)

// viewJSON is the printed form of a preview.View.
type viewJSON struct {
	Sequence uint64            `json:"sequence"`
	State    preview.State     `json:"state"`
	Source   preview.Source    `json:"source"`
	Payslip  *payroll.Payslip  `json:"payslip,omitempty"`
	Warnings []payroll.Warning `json:"warnings,omitempty"`
	Error    string            `json:"error,omitempty"`
}

func main() {
	baseURL := flag.String("url", "", "Payroll server base URL")
	timeout := flag.Duration("timeout", 0, "Per-attempt timeout")
	envFile := flag.String("env", ".env", "Path of the .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.Authority.URL = *baseURL
	}
	if *timeout > 0 {
		cfg.Authority.Timeout = *timeout
	}

	log, err := logger.InitLogger(cfg.App.Stage, cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(context.Background(), cfg, log); err != nil {
		log.Fatal("preview failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	engine, err := newEngine(cfg, log)
	if err != nil {
		return err
	}
	c := client.New(cfg.Authority.URL, client.WithLogger(log))
	out := json.NewEncoder(os.Stdout)

	coord := preview.NewCoordinator(
		engine,
		c,
		preview.WithTimeout(cfg.Authority.Timeout),
		preview.WithLogger(log),
		preview.WithListener(func(v preview.View) {
			if v.State == preview.StateCalculating {
				return
			}
			if err := out.Encode(toJSON(v)); err != nil {
				log.Warn("failed to print view", zap.Error(err))
			}
		}),
	)
	defer coord.Close()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var in payroll.PayPeriodInput
		if err := json.Unmarshal(line, &in); err != nil {
			log.Warn("skipping malformed input line", zap.Error(err))
			continue
		}

		if err := loadReference(ctx, c, coord, in); err != nil {
			log.Warn("reference data unavailable, previewing without it", zap.Error(err))
		}
		if _, err := coord.Submit(ctx, in); err != nil && !payroll.IsInvalidInput(err) {
			return err
		}
		coord.Wait()
	}
	return errors.Wrap(scanner.Err(), "read stdin")
}

// newEngine builds the local engine from the same profiles the server loads,
// so local and authoritative payslips agree on rates and limits.
func newEngine(cfg *config.Config, log *zap.Logger) (*payroll.Engine, error) {
	profiles, err := factory.ProfileTable(cfg.Payroll.JurisdictionsFile)
	if err != nil {
		return nil, errors.Wrap(err, "load jurisdiction profiles")
	}
	if cfg.Payroll.JurisdictionsFile != "" {
		log.Info("jurisdiction overlay applied", zap.String("file", cfg.Payroll.JurisdictionsFile))
	}
	return payroll.NewEngine(profiles), nil
}

// loadReference fetches the plan and YTD the local calculation needs. The
// YTD year is the year the period ends in, or the current year.
func loadReference(ctx context.Context, c *client.Client, coord *preview.Coordinator, in payroll.PayPeriodInput) error {
	var plan *payroll.RetirementPlan
	if in.PlanID != "" {
		p, err := c.Plan(ctx, in.PlanID)
		if err != nil {
			return errors.Wrapf(err, "plan %s", in.PlanID)
		}
		plan = p
	}

	year := time.Now().Year()
	if !in.PeriodEnd.IsZero() {
		year = in.PeriodEnd.Year()
	}
	ytd, err := c.YTD(ctx, in.SubjectID, year)
	if err != nil {
		coord.SetReference(plan, payroll.YTDTotals{})
		return errors.Wrapf(err, "ytd %s/%d", in.SubjectID, year)
	}
	coord.SetReference(plan, ytd)
	return nil
}

func toJSON(v preview.View) viewJSON {
	j := viewJSON{
		Sequence: v.Sequence,
		State:    v.State,
		Source:   v.Source,
		Warnings: v.Warnings,
	}
	if v.Err == nil || v.State == preview.StateUnconfirmed {
		p := v.Payslip
		j.Payslip = &p
	}
	if v.Err != nil {
		j.Error = v.Err.Error()
	}
	return j
}
