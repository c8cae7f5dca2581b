/*
Copyright 2022 The shipctl Authors.

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

package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"filippo.io/age"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/kustomize/api/krusty"
	kustypes "sigs.k8s.io/kustomize/api/types"
	"sigs.k8s.io/kustomize/kyaml/filesys"
)

// ErrNotFound is returned when the path backing a resource doesn't exist.
var ErrNotFound = errors.New("manifest not found")

// Loader reads Kubernetes objects from a file, a directory tree of manifests
// or a kustomize overlay.
type Loader struct {
	identities []age.Identity
	namespace  string
	mapper     meta.RESTMapper
}

// NewLoader creates a loader that sets the given namespace on namespaced objects
// and decrypts '.age' files with the given identities.
func NewLoader(namespace string, identities []age.Identity) *Loader {
	return &Loader{
		identities: identities,
		namespace:  namespace,
	}
}

// WithRESTMapper makes the loader resolve object scopes with the given mapper.
func (l *Loader) WithRESTMapper(mapper meta.RESTMapper) *Loader {
	l.mapper = mapper
	return l
}

// Load returns the objects found at path. A missing path yields ErrNotFound.
func (l *Loader) Load(path string) ([]*unstructured.Unstructured, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, err
	}

	var objects []*unstructured.Unstructured
	switch {
	case fi.IsDir() && isKustomization(path):
		data, err := buildKustomization(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		objects, err = ReadObjects(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	case fi.IsDir():
		files, err := scanRec(path)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			objs, err := l.readFile(file)
			if err != nil {
				return nil, err
			}
			objects = append(objects, objs...)
		}
	default:
		objects, err = l.readFile(path)
		if err != nil {
			return nil, err
		}
	}

	SetDefaultNamespace(objects, l.namespace, l.mapper)
	return objects, nil
}

func (l *Loader) readFile(path string) ([]*unstructured.Unstructured, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if strings.HasSuffix(path, ageExt) {
		data, err = decrypt(data, l.identities)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	objects, err := ReadObjects(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return objects, nil
}

func scanRec(dir string) ([]string, error) {
	var manifests []string
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		p := filepath.Join(dir, file.Name())
		if file.IsDir() {
			m, err := scanRec(p)
			if err != nil {
				return nil, err
			}
			manifests = append(manifests, m...)
			continue
		}
		if matchExt(file.Name()) {
			manifests = append(manifests, p)
		}
	}
	sort.Strings(manifests)
	return manifests, nil
}

func matchExt(f string) bool {
	f = strings.TrimSuffix(f, ageExt)
	ext := filepath.Ext(f)
	return ext == ".yaml" || ext == ".yml" || ext == ".json"
}

func isKustomization(dir string) bool {
	for _, name := range []string{"kustomization.yaml", "kustomization.yml", "Kustomization"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

var kustomizeBuildMutex sync.Mutex

func buildKustomization(base string) ([]byte, error) {
	kustomizeBuildMutex.Lock()
	defer kustomizeBuildMutex.Unlock()

	if filepath.IsAbs(base) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		base, err = filepath.Rel(wd, base)
		if err != nil {
			return nil, err
		}
	}

	buildOptions := &krusty.Options{
		LoadRestrictions: kustypes.LoadRestrictionsNone,
		PluginConfig:     kustypes.DisabledPluginConfig(),
	}

	k := krusty.MakeKustomizer(buildOptions)
	m, err := k.Run(filesys.MakeFsOnDisk(), base)
	if err != nil {
		return nil, err
	}

	return m.AsYaml()
}
