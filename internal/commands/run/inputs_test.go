// Copyright 2025 The Hyperagent Authors
//
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

package run

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInputs(t *testing.T) {
	inputs, err := ParseInputs([]string{
		"title=Fix flaky test",
		"attempts=3",
		"enabled=true",
		"tags=[\"a\",\"b\"]",
		"note=not json [",
		"path=a=b",
	})
	require.NoError(t, err)

	assert.Equal(t, "Fix flaky test", inputs["title"])
	assert.Equal(t, float64(3), inputs["attempts"])
	assert.Equal(t, true, inputs["enabled"])
	assert.Equal(t, []interface{}{"a", "b"}, inputs["tags"])
	assert.Equal(t, "not json [", inputs["note"])
	assert.Equal(t, "a=b", inputs["path"])
}

func TestParseInputs_Invalid(t *testing.T) {
	_, err := ParseInputs([]string{"no-separator"})
	require.Error(t, err)

	_, err = ParseInputs([]string{"=value"})
	require.Error(t, err)
}
