// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry exports the verdicts of a validation run as Prometheus
// metrics in the node_exporter textfile format.
//
// The validator is a short lived process, so nothing is scraped from it
// directly. Instead the metrics are gathered from a private registry once the
// run concludes and written next to the results document, where a textfile
// collector picks them up:
//
//	nd_preupgrade_check_status{check="disk_space",node="nd1",status="FAIL"} 1
//	nd_preupgrade_check_duration_seconds{check="disk_space",node="nd1"} 0.012
//	nd_preupgrade_exit_code{node="nd1"} 0
//
// Every check exports one series per status so that alerting rules can match
// on the status label without knowing which statuses exist.
package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/cloudzero/preupgrade-validator/app/types"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
)

var allStatuses = []status.Status{status.StatusPass, status.StatusWarning, status.StatusFail, status.StatusError}

// Recorder collects the metrics of one run.
type Recorder struct {
	node     string
	registry *prometheus.Registry

	mu sync.Mutex

	checkStatus   *prometheus.GaugeVec
	checkDuration *prometheus.GaugeVec
	checks        *prometheus.GaugeVec
	lastRun       *prometheus.GaugeVec
	exitCode      *prometheus.GaugeVec
	runInfo       *prometheus.GaugeVec
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder(node string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		node:     node,
		registry: reg,
		checkStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: types.ValidatorMetric("check_status"),
			Help: "1 for the status a check ended with, 0 for the other statuses",
		}, []string{"node", "check", "status"}),
		checkDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: types.ValidatorMetric("check_duration_seconds"),
			Help: "Wall time spent in a check",
		}, []string{"node", "check"}),
		checks: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: types.ValidatorMetric("checks"),
			Help: "Number of checks per status in the last run",
		}, []string{"node", "status"}),
		lastRun: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: types.ValidatorMetric("last_run_timestamp_seconds"),
			Help: "Unix time the last run concluded",
		}, []string{"node"}),
		exitCode: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: types.ValidatorMetric("exit_code"),
			Help: "Exit code of the last run",
		}, []string{"node"}),
		runInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: types.ValidatorMetric("run_info"),
			Help: "Identity of the last run, always 1",
		}, []string{"node", "run_id", "version"}),
	}
}

// Gatherer exposes the registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// ObserveCheck records the time spent in one check.
func (r *Recorder) ObserveCheck(res *status.CheckResult, took time.Duration) {
	if res == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkDuration.WithLabelValues(r.node, res.Name).Set(took.Seconds())
}

// ObserveReport records the final verdict of every entry in rep.
func (r *Recorder) ObserveReport(rep *status.Report, concluded time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, res := range rep.Checks {
		for _, s := range allStatuses {
			v := 0.0
			if res.Status == s {
				v = 1
			}
			r.checkStatus.WithLabelValues(r.node, name, s.String()).Set(v)
		}
	}
	counts := rep.Counts()
	for _, s := range allStatuses {
		r.checks.WithLabelValues(r.node, s.String()).Set(float64(counts[s]))
	}
	r.runInfo.Reset()
	r.runInfo.WithLabelValues(r.node, rep.RunID, rep.Version).Set(1)
	r.lastRun.WithLabelValues(r.node).Set(float64(concluded.Unix()))
}

// ObserveExit records the exit code of the run.
func (r *Recorder) ObserveExit(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exitCode.WithLabelValues(r.node).Set(float64(code))
}

// WriteTextfile gathers the registry into path. The file is replaced
// atomically.
func (r *Recorder) WriteTextfile(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return errors.Wrapf(err, "failed to write metrics to %s", path)
	}
	log.Ctx(ctx).Debug().Str("file", path).Msg("metrics written")
	return nil
}
