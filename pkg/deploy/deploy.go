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

// Package deploy applies and removes the workload manifests under
// measurement. Manifests are decoded strictly so a typo in a field name is
// caught before anything reaches the apiserver.
package deploy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sruntime "k8s.io/apimachinery/pkg/runtime"
	k8sserializer "k8s.io/apimachinery/pkg/runtime/serializer"
	k8syaml "k8s.io/apimachinery/pkg/util/yaml"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"
)

var coreScheme *k8sruntime.Scheme
var codecFactory k8sserializer.CodecFactory
var manifestDecoder k8sruntime.Decoder

func init() {
	coreScheme = k8sruntime.NewScheme()
	if err := corev1.AddToScheme(coreScheme); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to corev1.AddToScheme: "+err.Error())
	}
	if err := appsv1.AddToScheme(coreScheme); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to appsv1.AddToScheme: "+err.Error())
	}
	codecFactory = k8sserializer.NewCodecFactory(coreScheme, k8sserializer.EnableStrict)
	manifestDecoder = codecFactory.UniversalDecoder(corev1.SchemeGroupVersion, appsv1.SchemeGroupVersion)
}

// ObjectRef identifies one object an Apply produced.
type ObjectRef struct {
	Kind      string
	Namespace string
	Name      string
}

func (r ObjectRef) String() string {
	return fmt.Sprintf("%s %s/%s", r.Kind, r.Namespace, r.Name)
}

// Applier creates, updates and deletes manifest objects through a typed
// client.
type Applier struct {
	client kubernetes.Interface
}

// NewApplier returns an Applier working through the given client.
func NewApplier(client kubernetes.Interface) *Applier {
	return &Applier{client: client}
}

// Decode parses a manifest, possibly holding several YAML documents, into
// typed objects. Decoding is strict: spurious fields are errors, to catch
// common manifest mistakes before sending anything to the apiserver.
func Decode(manifest []byte) ([]k8sruntime.Object, error) {
	reader := k8syaml.NewYAMLReader(bufio.NewReader(bytes.NewReader(manifest)))
	var objects []k8sruntime.Object
	for {
		doc, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest document: %w", err)
		}
		if len(bytes.TrimSpace(doc)) == 0 {
			continue
		}
		docJSON, err := yaml.YAMLToJSON(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert manifest document to JSON: %w", err)
		}
		if bytes.Equal(docJSON, []byte("null")) {
			continue
		}
		obj, _, err := manifestDecoder.Decode(docJSON, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decode manifest document %d: %w", len(objects)+1, err)
		}
		objects = append(objects, obj)
	}
	if len(objects) == 0 {
		return nil, errors.New("manifest holds no objects")
	}
	return objects, nil
}

// ApplyFile reads a manifest file and applies its objects.
func (a *Applier) ApplyFile(ctx context.Context, path, defaultNamespace string) ([]ObjectRef, error) {
	manifest, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %q: %w", path, err)
	}
	refs, err := a.Apply(ctx, manifest, defaultNamespace)
	if err != nil {
		return refs, fmt.Errorf("failed to apply manifest %q: %w", path, err)
	}
	return refs, nil
}

// Apply creates every object of the manifest, updating objects that
// already exist. Pods are the exception: a leftover pod with the same name
// means the previous cleanup did not finish, and that is an error rather
// than something to paper over. Objects without a namespace land in
// defaultNamespace.
func (a *Applier) Apply(ctx context.Context, manifest []byte, defaultNamespace string) ([]ObjectRef, error) {
	logger := klog.FromContext(ctx)
	objects, err := Decode(manifest)
	if err != nil {
		return nil, err
	}
	refs := make([]ObjectRef, 0, len(objects))
	for _, obj := range objects {
		ref, err := a.applyObject(ctx, obj, defaultNamespace)
		if err != nil {
			return refs, err
		}
		logger.V(2).Info("applied object", "kind", ref.Kind, "namespace", ref.Namespace, "name", ref.Name)
		refs = append(refs, ref)
	}
	return refs, nil
}

func (a *Applier) applyObject(ctx context.Context, obj k8sruntime.Object, defaultNamespace string) (ObjectRef, error) {
	switch typed := obj.(type) {
	case *corev1.Pod:
		ns := orDefault(typed.Namespace, defaultNamespace)
		ref := ObjectRef{Kind: "Pod", Namespace: ns, Name: typed.Name}
		typed.Namespace = ns
		if _, err := a.client.CoreV1().Pods(ns).Create(ctx, typed, metav1.CreateOptions{}); err != nil {
			return ref, fmt.Errorf("failed to create pod %s/%s: %w", ns, typed.Name, err)
		}
		return ref, nil
	case *appsv1.Deployment:
		ns := orDefault(typed.Namespace, defaultNamespace)
		ref := ObjectRef{Kind: "Deployment", Namespace: ns, Name: typed.Name}
		typed.Namespace = ns
		_, err := a.client.AppsV1().Deployments(ns).Create(ctx, typed, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			err = a.updateDeployment(ctx, typed)
		}
		if err != nil {
			return ref, fmt.Errorf("failed to apply deployment %s/%s: %w", ns, typed.Name, err)
		}
		return ref, nil
	case *appsv1.DaemonSet:
		ns := orDefault(typed.Namespace, defaultNamespace)
		ref := ObjectRef{Kind: "DaemonSet", Namespace: ns, Name: typed.Name}
		typed.Namespace = ns
		_, err := a.client.AppsV1().DaemonSets(ns).Create(ctx, typed, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			err = a.updateDaemonSet(ctx, typed)
		}
		if err != nil {
			return ref, fmt.Errorf("failed to apply daemonset %s/%s: %w", ns, typed.Name, err)
		}
		return ref, nil
	case *corev1.Service:
		ns := orDefault(typed.Namespace, defaultNamespace)
		ref := ObjectRef{Kind: "Service", Namespace: ns, Name: typed.Name}
		typed.Namespace = ns
		_, err := a.client.CoreV1().Services(ns).Create(ctx, typed, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			err = a.updateService(ctx, typed)
		}
		if err != nil {
			return ref, fmt.Errorf("failed to apply service %s/%s: %w", ns, typed.Name, err)
		}
		return ref, nil
	default:
		return ObjectRef{}, fmt.Errorf("manifest object of unsupported type %T", obj)
	}
}

func (a *Applier) updateDeployment(ctx context.Context, desired *appsv1.Deployment) error {
	existing, err := a.client.AppsV1().Deployments(desired.Namespace).Get(ctx, desired.Name, metav1.GetOptions{})
	if err != nil {
		return err
	}
	existing.Labels = desired.Labels
	existing.Annotations = desired.Annotations
	existing.Spec = desired.Spec
	_, err = a.client.AppsV1().Deployments(desired.Namespace).Update(ctx, existing, metav1.UpdateOptions{})
	return err
}

func (a *Applier) updateDaemonSet(ctx context.Context, desired *appsv1.DaemonSet) error {
	existing, err := a.client.AppsV1().DaemonSets(desired.Namespace).Get(ctx, desired.Name, metav1.GetOptions{})
	if err != nil {
		return err
	}
	existing.Labels = desired.Labels
	existing.Annotations = desired.Annotations
	existing.Spec = desired.Spec
	_, err = a.client.AppsV1().DaemonSets(desired.Namespace).Update(ctx, existing, metav1.UpdateOptions{})
	return err
}

func (a *Applier) updateService(ctx context.Context, desired *corev1.Service) error {
	existing, err := a.client.CoreV1().Services(desired.Namespace).Get(ctx, desired.Name, metav1.GetOptions{})
	if err != nil {
		return err
	}
	// ClusterIP is assigned by the apiserver and immutable.
	clusterIP := existing.Spec.ClusterIP
	existing.Labels = desired.Labels
	existing.Annotations = desired.Annotations
	existing.Spec = desired.Spec
	existing.Spec.ClusterIP = clusterIP
	_, err = a.client.CoreV1().Services(desired.Namespace).Update(ctx, existing, metav1.UpdateOptions{})
	return err
}

// Delete removes the given objects, ignoring ones already gone.
func (a *Applier) Delete(ctx context.Context, refs []ObjectRef) error {
	logger := klog.FromContext(ctx)
	for _, ref := range refs {
		var err error
		switch ref.Kind {
		case "Pod":
			err = a.client.CoreV1().Pods(ref.Namespace).Delete(ctx, ref.Name, metav1.DeleteOptions{})
		case "Deployment":
			err = a.client.AppsV1().Deployments(ref.Namespace).Delete(ctx, ref.Name, metav1.DeleteOptions{})
		case "DaemonSet":
			err = a.client.AppsV1().DaemonSets(ref.Namespace).Delete(ctx, ref.Name, metav1.DeleteOptions{})
		case "Service":
			err = a.client.CoreV1().Services(ref.Namespace).Delete(ctx, ref.Name, metav1.DeleteOptions{})
		default:
			return fmt.Errorf("cannot delete object of unsupported kind %q", ref.Kind)
		}
		if err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("failed to delete %s %s/%s: %w", ref.Kind, ref.Namespace, ref.Name, err)
		}
		logger.V(2).Info("deleted object", "kind", ref.Kind, "namespace", ref.Namespace, "name", ref.Name)
	}
	return nil
}

// DeleteBySelector removes every deployment, daemonset and pod matching
// the label selector. Deletion is requested object by object so the caller
// learns exactly which one failed.
func (a *Applier) DeleteBySelector(ctx context.Context, namespace, selector string) error {
	logger := klog.FromContext(ctx)
	opts := metav1.ListOptions{LabelSelector: selector}

	deployments, err := a.client.AppsV1().Deployments(namespace).List(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to list deployments matching %q: %w", selector, err)
	}
	for i := range deployments.Items {
		name := deployments.Items[i].Name
		if err := a.client.AppsV1().Deployments(namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("failed to delete deployment %s/%s: %w", namespace, name, err)
		}
		logger.V(2).Info("deleted object", "kind", "Deployment", "namespace", namespace, "name", name)
	}

	daemonsets, err := a.client.AppsV1().DaemonSets(namespace).List(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to list daemonsets matching %q: %w", selector, err)
	}
	for i := range daemonsets.Items {
		name := daemonsets.Items[i].Name
		if err := a.client.AppsV1().DaemonSets(namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("failed to delete daemonset %s/%s: %w", namespace, name, err)
		}
		logger.V(2).Info("deleted object", "kind", "DaemonSet", "namespace", namespace, "name", name)
	}

	pods, err := a.client.CoreV1().Pods(namespace).List(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to list pods matching %q: %w", selector, err)
	}
	for i := range pods.Items {
		name := pods.Items[i].Name
		if err := a.client.CoreV1().Pods(namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("failed to delete pod %s/%s: %w", namespace, name, err)
		}
		logger.V(2).Info("deleted object", "kind", "Pod", "namespace", namespace, "name", name)
	}
	return nil
}

func orDefault(namespace, fallback string) string {
	if namespace != "" {
		return namespace
	}
	return fallback
}
