// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
This file serves as the bridge between the build system and the runtime logic.
It utilizes the Go embed package to bake the default_policies.yaml file
directly into the compiled binary, so the gate always has a valid policy
table even when no file is mounted on the host.
*/

package enforcement

import (
	_ "embed"
)

// DefaultPolicyTables holds the raw byte content of 'default_policies.yaml'.
//
// Populated at compile time via the Go 'embed' directive. The embedded
// defaults are the fallback of last resort: a mounted policy file, when
// present, takes precedence and is hot-reloaded.
//
// Usage:
//
//	// Pass these bytes directly to yaml.Unmarshal
//	err := yaml.Unmarshal(enforcement.DefaultPolicyTables, &targetStruct)
//
//go:embed default_policies.yaml
var DefaultPolicyTables []byte
