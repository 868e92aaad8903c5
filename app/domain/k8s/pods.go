// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package k8s

import (
	"context"
	"fmt"
	"sort"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/client-go/kubernetes"

	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic"
)

// PodLister lists the pods of every namespace that are not Running.
type PodLister struct {
	clientset kubernetes.Interface
}

var _ diagnostic.PodLister = (*PodLister)(nil)

// NewPodLister wraps an existing clientset.
func NewPodLister(clientset kubernetes.Interface) *PodLister {
	return &PodLister{clientset: clientset}
}

// ListNotRunning returns pods outside the Running phase, sorted by namespace
// and name.
func (l *PodLister) ListNotRunning(ctx context.Context) ([]diagnostic.PodInfo, error) {
	selector := fields.OneTermNotEqualSelector("status.phase", string(corev1.PodRunning)).String()
	list, err := l.clientset.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{FieldSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}

	out := make([]diagnostic.PodInfo, 0, len(list.Items))
	for i := range list.Items {
		pod := &list.Items[i]
		// not every API server honours the field selector
		if pod.Status.Phase == corev1.PodRunning {
			continue
		}
		out = append(out, diagnostic.PodInfo{
			Namespace: pod.Namespace,
			Name:      pod.Name,
			Phase:     string(pod.Status.Phase),
			Reason:    reason(pod),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// reason prefers the pod's own reason, then the first waiting container's.
func reason(pod *corev1.Pod) string {
	if pod.Status.Reason != "" {
		return pod.Status.Reason
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Waiting != nil && cs.State.Waiting.Reason != "" {
			return cs.State.Waiting.Reason
		}
	}
	for _, c := range pod.Status.Conditions {
		if c.Status == corev1.ConditionFalse && c.Reason != "" {
			return c.Reason
		}
	}
	return ""
}
