// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package health_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/diagtest"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/health"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
	"github.com/cloudzero/preupgrade-validator/app/utils/process"
	"github.com/cloudzero/preupgrade-validator/app/utils/process/mocks"
)

func TestUnit_Diagnostic_Health_Evidence(t *testing.T) {
	tcases := []struct {
		name        string
		files       map[string]string
		wantStatus  status.Status
		wantDetails []string
	}{
		{
			name:        "healthy",
			files:       map[string]string{"ts_nd1/acs-checks/acs_health": "All components are healthy\n"},
			wantStatus:  status.StatusPass,
			wantDetails: []string{"acs health indicates Node is healthy"},
		},
		{
			name: "issues reported",
			files: map[string]string{
				"ts_nd1/acs-checks/acs_health":       "=====\nStatus\n\nService kafka is degraded\nDisk /data usage high\n",
				"ts_nd1/acs-checks/acs_health_debug": "All components are healthy",
			},
			wantStatus:  status.StatusFail,
			wantDetails: []string{"Service kafka is degraded", "Disk /data usage high"},
		},
		{
			name:        "only decoration",
			files:       map[string]string{"ts_nd1/acs_health": "=====\nStatus\n"},
			wantStatus:  status.StatusFail,
			wantDetails: []string{"System health check failed"},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			exec := mocks.NewMockExecutor(ctrl)
			exec.EXPECT().Run(gomock.Any(), gomock.Any()).Times(0)

			env := diagtest.Env(t, exec)
			diagtest.Evidence(t, env, tc.files)

			result := status.NewCheckResult(diagnostic.SystemHealth)
			require.NoError(t, health.NewProvider(t.Context(), env.Settings).Check(t.Context(), env, result))
			assert.Equal(t, tc.wantStatus, result.Status)
			assert.Equal(t, tc.wantDetails, result.Details)
			if tc.wantStatus != status.StatusPass {
				assert.NotEmpty(t, result.Explanation)
			}
		})
	}
}

func TestUnit_Diagnostic_Health_Live(t *testing.T) {
	tcases := []struct {
		name        string
		files       map[string]string
		res         *process.Result
		err         error
		wantStatus  status.Status
		wantDetails []string
	}{
		{
			name:        "healthy",
			res:         mocks.Output("All components are healthy\n", 0),
			wantStatus:  status.StatusPass,
			wantDetails: []string{"acs health indicates Node is healthy"},
		},
		{
			name:        "unhealthy exits non-zero",
			res:         mocks.Output("Service etcd is unavailable\n", 1),
			wantStatus:  status.StatusFail,
			wantDetails: []string{"Service etcd is unavailable"},
		},
		{
			name: "debug dump is not health output",
			files: map[string]string{
				"ts_nd1/acs-checks/acs_health_debug": "kubectl get pods -A -o wide\nNAMESPACE NAME READY STATUS\nkafka kafka-0 1/1 Running\n",
			},
			res:         mocks.Output("All components are healthy\n", 0),
			wantStatus:  status.StatusPass,
			wantDetails: []string{"acs health indicates Node is healthy"},
		},
		{
			name:        "query times out",
			err:         process.ErrTimeout,
			wantStatus:  status.StatusWarning,
			wantDetails: []string{"Could not determine system health"},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			exec := mocks.NewMockExecutor(ctrl)
			exec.EXPECT().Run(gomock.Any(), mocks.CommandLine("acs health")).Return(tc.res, tc.err)

			env := diagtest.Env(t, exec)
			if tc.files != nil {
				diagtest.Evidence(t, env, tc.files)
			}
			result := status.NewCheckResult(diagnostic.SystemHealth)
			require.NoError(t, health.NewProvider(t.Context(), env.Settings).Check(t.Context(), env, result))
			assert.Equal(t, tc.wantStatus, result.Status)
			assert.Equal(t, tc.wantDetails, result.Details)
		})
	}
}
