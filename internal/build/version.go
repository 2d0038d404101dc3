// Copyright Project Hosh Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package build holds the build information for the binary,
// the values of which are injected at build time.
package build

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	// Branch is the git branch the binary was built from.
	Branch string

	// Sha is the git sha the binary was built from.
	Sha string

	// Version is the release tag, or "dev" for local builds.
	Version = "dev"
)

// PrintBuildInfo prints the current build information to stdout.
func PrintBuildInfo() {
	info := struct {
		Branch  string `yaml:"branch"`
		Sha     string `yaml:"sha"`
		Version string `yaml:"version"`
	}{
		Branch:  Branch,
		Sha:     Sha,
		Version: Version,
	}

	res, err := yaml.Marshal(info)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error marshaling build info: %v\n", err)
		return
	}
	fmt.Print(string(res))
}
