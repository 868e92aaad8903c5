// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package pods checks that no pod or service of the platform is unhealthy.
package pods

import (
	"bufio"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	config "github.com/cloudzero/preupgrade-validator/app/config/preflight"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic"
	logging "github.com/cloudzero/preupgrade-validator/app/logging/validator"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
)

const (
	healthyDetail  = "All Pods and Services are in a healthy state"
	explanation    = "Pods which are not in a healthy state can cause upgrade issues or failures."
	recommendation = "Contact Cisco TAC for assistance in remediating the affected pods."

	undesiredMarker = "service may have pods in undesired state"
	podSection      = "kubectl get pods -A -o wide"
	completedPhase  = "Completed"
	succeededPhase  = "Succeeded"

	// maxPodDetails bounds the per pod lines of a live verdict.
	maxPodDetails = 5
)

// Evidence holds the health debug dump, in preference order.
var Evidence = []string{
	"*/acs-checks/acs_health_debug*",
	"*acs_health_debug*",
}

// Findings is what the health debug dump says about pods.
type Findings struct {
	Undesired []string
	CrashLoop []string
	Problems  int
	Completed int
}

// ParseHealthDebug scans the `acs health` debug dump for services flagged as
// degraded and for pods in a bad state in its pod listing.
func ParseHealthDebug(content string) Findings {
	undesired := map[string]bool{}
	crash := map[string]bool{}
	var f Findings

	inPods := false
	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.Contains(line, undesiredMarker) {
			parts := strings.Split(line, "-")
			if svc := strings.TrimSpace(parts[len(parts)-1]); svc != "" && svc != line {
				undesired[svc] = true
			} else {
				undesired["unknown service"] = true
			}
		}
		if strings.Contains(line, podSection) {
			inPods = true
			continue
		}
		if !inPods {
			continue
		}
		switch {
		case strings.Contains(line, "----"):
			continue
		case strings.Contains(line, "NAMESPACE") && strings.Contains(line, "NAME") && strings.Contains(line, "STATUS"):
			continue
		case strings.HasPrefix(line, "kubectl ") || strings.Contains(line, "==="):
			inPods = false
			continue
		}

		if strings.Contains(line, "CrashLoopBackOff") || strings.Contains(line, "Error") || strings.Contains(line, "Pending") {
			f.Problems++
			if parts := strings.Fields(line); len(parts) >= 3 {
				svc, _, _ := strings.Cut(parts[1], "-")
				crash[parts[0]+": "+svc] = true
			}
		}
		if strings.Contains(line, completedPhase) {
			f.Completed++
		}
	}

	f.Undesired = sortedKeys(undesired)
	f.CrashLoop = sortedKeys(crash)
	return f
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

type checker struct {
	cfg    *config.Settings
	logger *logrus.Entry
}

func NewProvider(ctx context.Context, cfg *config.Settings) diagnostic.Provider {
	return &checker{
		cfg: cfg,
		logger: logging.NewLogger().
			WithContext(ctx).WithField(logging.OpField, diagnostic.PodStatus),
	}
}

func (c *checker) Check(ctx context.Context, env *diagnostic.Environment, result *status.CheckResult) error {
	if path, content, ok := env.FirstEvidence(Evidence...); ok {
		c.logger.Infof("reading pod state from %s", path)
		c.fromEvidence(ParseHealthDebug(content), result)
		return nil
	}

	pods, err := c.live(ctx, env)
	if err != nil {
		c.logger.WithError(err).Warn("could not determine pod status")
		result.Warn(fmt.Sprintf("Error checking pod status: %v", err))
		return nil
	}

	var problems []diagnostic.PodInfo
	for _, p := range pods {
		if p.Phase == succeededPhase || p.Phase == completedPhase {
			continue
		}
		problems = append(problems, p)
	}
	if len(problems) == 0 {
		result.Pass(healthyDetail)
		return nil
	}

	result.Fail(fmt.Sprintf("Found %d pods in non-Running/non-Completed state", len(problems)))
	for i, p := range problems {
		if i == maxPodDetails {
			result.AddDetailf("... and %d more", len(problems)-maxPodDetails)
			break
		}
		line := fmt.Sprintf("%s/%s: %s", p.Namespace, p.Name, p.Phase)
		if p.Reason != "" {
			line += " (" + p.Reason + ")"
		}
		result.AddDetail(line)
	}
	result.Remediate(explanation, recommendation, "")
	return nil
}

func (c *checker) fromEvidence(f Findings, result *status.CheckResult) {
	if len(f.Undesired) == 0 && len(f.CrashLoop) == 0 && f.Problems == 0 {
		result.Pass(healthyDetail)
		return
	}
	result.Fail()
	if len(f.Undesired) > 0 {
		result.AddDetailf("Service(s) with pods in undesired state: %s", strings.Join(f.Undesired, ", "))
	}
	if len(f.CrashLoop) > 0 {
		result.AddDetailf("Service(s) with pods in CrashLoopBackOff state: %s", strings.Join(f.CrashLoop, ", "))
	}
	if len(result.Details) == 0 {
		result.AddDetailf("Found %d pods in non-Running/non-Completed state", f.Problems)
	}
	result.Remediate(explanation, recommendation, "")
}

// live asks the Kubernetes API first and kubectl second.
func (c *checker) live(ctx context.Context, env *diagnostic.Environment) ([]diagnostic.PodInfo, error) {
	if env.Pods != nil {
		pods, err := env.Pods.ListNotRunning(ctx)
		if err == nil {
			return pods, nil
		}
		c.logger.WithError(err).Info("kubernetes API unavailable, falling back to kubectl")
	}

	res, err := env.Query(ctx, c.cfg.Commands.Kubectl, "get", "pods", "-A", "--field-selector=status.phase!=Running")
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("kubectl exited with status %d", res.ExitCode)
		}
		return nil, errors.New(msg)
	}
	return ParseKubectl(res.Stdout), nil
}

// ParseKubectl reads `kubectl get pods -A` output.
func ParseKubectl(output string) []diagnostic.PodInfo {
	var pods []diagnostic.PodInfo
	header := true
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if header {
			header = false
			continue
		}
		// NAMESPACE NAME READY STATUS RESTARTS AGE
		parts := strings.Fields(line)
		if len(parts) < 4 {
			continue
		}
		pods = append(pods, diagnostic.PodInfo{Namespace: parts[0], Name: parts[1], Phase: parts[3]})
	}
	return pods
}
