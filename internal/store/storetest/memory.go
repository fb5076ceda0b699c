// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"context"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/lexfrei/gateway-cert-webhook/internal/store"
)

// Store methods as recorded in the call journal.
const (
	MethodGet     = "get"
	MethodCreate  = "create"
	MethodReplace = "replace"
	MethodDelete  = "delete"
)

// Call is one journal entry.
type Call struct {
	Method    string
	Kind      string
	Namespace string
	Name      string
}

type objectKey struct {
	gvk       schema.GroupVersionKind
	namespace string
	name      string
}

type failure struct {
	method string
	kind   string
}

// Memory is a goroutine-safe in-memory store.Store. It bumps resourceVersion
// on every write and rejects replaces whose resourceVersion is stale.
type Memory struct {
	mu       sync.Mutex
	objects  map[objectKey]*unstructured.Unstructured
	calls    []Call
	failures map[failure]error
	version  int
}

var _ store.Store = (*Memory)(nil)

// NewMemory creates a store pre-populated with objs.
func NewMemory(objs ...*unstructured.Unstructured) *Memory {
	m := &Memory{
		objects:  make(map[objectKey]*unstructured.Unstructured),
		failures: make(map[failure]error),
	}

	for _, obj := range objs {
		m.version++
		stored := obj.DeepCopy()
		stored.SetResourceVersion(strconv.Itoa(m.version))
		m.objects[keyOf(stored.GroupVersionKind(), stored.GetNamespace(), stored.GetName())] = stored
	}

	return m
}

// FailOn makes every call of method on kind return err.
func (m *Memory) FailOn(method, kind string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures[failure{method: method, kind: kind}] = err
}

// Calls returns a copy of the call journal.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Call(nil), m.calls...)
}

// CallsFor returns the journal entries for method.
func (m *Memory) CallsFor(method string) []Call {
	var filtered []Call

	for _, call := range m.Calls() {
		if call.Method == method {
			filtered = append(filtered, call)
		}
	}

	return filtered
}

// Object returns a copy of a stored object without recording a call.
func (m *Memory) Object(gvk schema.GroupVersionKind, namespace, name string) (*unstructured.Unstructured, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[keyOf(gvk, namespace, name)]
	if !ok {
		return nil, false
	}

	return obj.DeepCopy(), true
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.objects)
}

// Get implements store.Store.
func (m *Memory) Get(
	_ context.Context,
	gvk schema.GroupVersionKind,
	namespace, name string,
) (*unstructured.Unstructured, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(MethodGet, gvk.Kind, namespace, name); err != nil {
		return nil, err
	}

	obj, ok := m.objects[keyOf(gvk, namespace, name)]
	if !ok {
		return nil, notFound(gvk.Kind, namespace, name)
	}

	return obj.DeepCopy(), nil
}

// Create implements store.Store.
func (m *Memory) Create(_ context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(MethodCreate, obj.GetKind(), obj.GetNamespace(), obj.GetName()); err != nil {
		return nil, err
	}

	objKey := keyOf(obj.GroupVersionKind(), obj.GetNamespace(), obj.GetName())
	if _, exists := m.objects[objKey]; exists {
		return nil, errors.Mark(
			errors.Newf("%s %s/%s already exists", obj.GetKind(), obj.GetNamespace(), obj.GetName()),
			store.ErrAlreadyExists,
		)
	}

	return m.put(objKey, obj), nil
}

// Replace implements store.Store.
func (m *Memory) Replace(_ context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(MethodReplace, obj.GetKind(), obj.GetNamespace(), obj.GetName()); err != nil {
		return nil, err
	}

	objKey := keyOf(obj.GroupVersionKind(), obj.GetNamespace(), obj.GetName())

	current, exists := m.objects[objKey]
	if !exists {
		return nil, notFound(obj.GetKind(), obj.GetNamespace(), obj.GetName())
	}

	if rv := obj.GetResourceVersion(); rv != "" && rv != current.GetResourceVersion() {
		return nil, errors.Mark(
			errors.Newf("%s %s/%s: resourceVersion %s is stale", obj.GetKind(), obj.GetNamespace(), obj.GetName(), rv),
			store.ErrConflict,
		)
	}

	return m.put(objKey, obj), nil
}

// Delete implements store.Store.
func (m *Memory) Delete(_ context.Context, gvk schema.GroupVersionKind, namespace, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(MethodDelete, gvk.Kind, namespace, name); err != nil {
		return err
	}

	objKey := keyOf(gvk, namespace, name)
	if _, exists := m.objects[objKey]; !exists {
		return notFound(gvk.Kind, namespace, name)
	}

	delete(m.objects, objKey)

	return nil
}

func (m *Memory) record(method, kind, namespace, name string) error {
	m.calls = append(m.calls, Call{Method: method, Kind: kind, Namespace: namespace, Name: name})

	return m.failures[failure{method: method, kind: kind}]
}

func (m *Memory) put(objKey objectKey, obj *unstructured.Unstructured) *unstructured.Unstructured {
	m.version++

	stored := obj.DeepCopy()
	stored.SetResourceVersion(strconv.Itoa(m.version))
	m.objects[objKey] = stored

	return stored.DeepCopy()
}

func keyOf(gvk schema.GroupVersionKind, namespace, name string) objectKey {
	return objectKey{gvk: gvk, namespace: namespace, name: name}
}

func notFound(kind, namespace, name string) error {
	return errors.Mark(errors.Newf("%s %s/%s not found", kind, namespace, name), store.ErrNotFound)
}
