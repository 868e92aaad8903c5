// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package k8s reads pod state from the cluster the node belongs to.
package k8s

import (
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// GetConfig returns a k8s config. An explicit kubeconfig wins; otherwise the
// in-cluster config is tried, then the kubeconfig in the home directory.
//
// If no config is found, an error is returned.
func GetConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		if cfg, err := rest.InClusterConfig(); err == nil {
			return cfg, nil
		}
		kubeconfig = filepath.Join(homedir.HomeDir(), ".kube", "config")
	}

	if _, err := os.Stat(kubeconfig); err != nil {
		return nil, fmt.Errorf("there is no k8s config file found at: '%s'", kubeconfig)
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}

// GetClient creates a new k8s client to use
func GetClient(kubeconfig string) (kubernetes.Interface, error) {
	cfg, err := GetConfig(kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to get the k8s rest config: %w", err)
	}

	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create a k8s client: %w", err)
	}

	return client, nil
}
