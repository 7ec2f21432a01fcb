/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package node

import (
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/labels"
)

// Filter returns the nodes whose labels satisfy the given node selector.
// An empty selector matches every node, the same way the scheduler treats
// an empty pod nodeSelector.
func Filter(nodes []corev1.Node, nodeSelector map[string]string) []corev1.Node {
	if len(nodeSelector) == 0 {
		return nodes
	}
	sel := labels.SelectorFromSet(labels.Set(nodeSelector))
	var matched []corev1.Node
	for _, node := range nodes {
		if sel.Matches(labels.Set(node.Labels)) {
			matched = append(matched, node)
		}
	}
	return matched
}

// Names returns the node names in slice order, for log lines.
func Names(nodes []corev1.Node) []string {
	names := make([]string, len(nodes))
	for i, node := range nodes {
		names[i] = node.Name
	}
	return names
}
