// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package subnet_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/cluster/subnet"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/diagtest"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
	"github.com/cloudzero/preupgrade-validator/app/utils/process/mocks"
)

func TestUnit_Diagnostic_Subnet_Check(t *testing.T) {
	tcases := []struct {
		name        string
		rows        []string
		wantStatus  status.Status
		wantDetails []string
	}{
		{
			name: "isolated",
			rows: []string{
				diagtest.Node("*nd1", "3.1.1g", "10.0.0.11/24", "192.168.1.11/24", "Active"),
				diagtest.Node("", "", "::/0", "::/0", ""),
				diagtest.Node("nd2", "3.1.1g", "10.0.0.12/24", "192.168.1.12/24", "Active"),
			},
			wantStatus:  status.StatusPass,
			wantDetails: []string{"Mgmt and Data interfaces are in different subnets"},
		},
		{
			name: "same subnet",
			rows: []string{
				diagtest.Node("*nd1", "3.1.1g", "10.0.0.11/16", "10.0.5.11/24", "Active"),
				diagtest.Node("nd2", "3.1.1g", "10.1.0.12/24", "192.168.1.12/24", "Active"),
			},
			wantStatus:  status.StatusFail,
			wantDetails: []string{"Node nd1 has data network 10.0.0.11/16 and management network 10.0.5.11/24 in the same subnet"},
		},
		{
			name: "bare address gets a host mask",
			rows: []string{
				diagtest.Node("*nd1", "3.1.1g", "10.0.0.11", "10.0.0.11/24", "Active"),
			},
			wantStatus:  status.StatusFail,
			wantDetails: []string{"Node nd1 has data network 10.0.0.11/32 and management network 10.0.0.11/24 in the same subnet"},
		},
		{
			name: "missing management network",
			rows: []string{
				diagtest.Node("*nd1", "3.1.1g", "10.0.0.11/24", "", "Active"),
			},
			wantStatus:  status.StatusWarning,
			wantDetails: []string{"Missing network information for node nd1"},
		},
		{
			name: "unparsable network",
			rows: []string{
				diagtest.Node("*nd1", "3.1.1g", "10.0.0/24", "192.168.1.11/24", "Active"),
			},
			wantStatus: status.StatusWarning,
		},
		{
			name:        "no networks at all",
			rows:        []string{diagtest.Node("*nd1", "3.1.1g", "", "", "Active")},
			wantStatus:  status.StatusWarning,
			wantDetails: []string{"Could not parse node network information"},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			exec := mocks.NewMockExecutor(ctrl)
			exec.EXPECT().Run(gomock.Any(), mocks.CommandLine("acs show nodes")).
				Return(mocks.Output(diagtest.NodeTable(tc.rows...), 0), nil)

			env := diagtest.Env(t, exec)
			result := status.NewCheckResult(diagnostic.SubnetCheck)
			require.NoError(t, subnet.NewProvider(t.Context(), env.Settings).Check(t.Context(), env, result))

			assert.Equal(t, tc.wantStatus, result.Status)
			if tc.wantDetails != nil {
				assert.Equal(t, tc.wantDetails, result.Details)
			} else {
				assert.NotEmpty(t, result.Details)
			}
			if tc.wantStatus == status.StatusFail {
				assert.Contains(t, result.Explanation, "different subnets")
			}
		})
	}
}

func TestUnit_Diagnostic_Subnet_QueryFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	exec.EXPECT().Run(gomock.Any(), gomock.Any()).Return(mocks.Output("", 1), nil)

	env := diagtest.Env(t, exec)
	result := status.NewCheckResult(diagnostic.SubnetCheck)
	require.NoError(t, subnet.NewProvider(t.Context(), env.Settings).Check(t.Context(), env, result))
	assert.Equal(t, status.StatusWarning, result.Status)
	assert.Equal(t, []string{"Could not retrieve node information"}, result.Details)
}
