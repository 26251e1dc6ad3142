// Copyright 2021-2025
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pv-lookthrough/common"
)

var _ = Describe("Util", func() {
	DescribeTable("partitioning symbol lists",
		func(xs []string, size int, expected [][]string) {
			Expect(common.PartitionArray(xs, size)).To(Equal(expected))
		},
		Entry("When the list is empty", []string{}, 3, nil),
		Entry("When the list is smaller than a chunk", []string{"A", "B"}, 3, [][]string{{"A", "B"}}),
		Entry("When the list divides evenly", []string{"A", "B", "C", "D"}, 2, [][]string{{"A", "B"}, {"C", "D"}}),
		Entry("When the last chunk is short", []string{"A", "B", "C"}, 2, [][]string{{"A", "B"}, {"C"}}),
		Entry("When the chunk size is not positive", []string{"A", "B"}, 0, [][]string{{"A", "B"}}),
	)

	It("normalizes and de-duplicates symbols", func() {
		Expect(common.UniqueSymbols([]string{" vti", "VTI", "", "aapl "})).To(Equal([]string{"AAPL", "VTI"}))
	})

	It("round trips data through lz4", func() {
		payload := bytes.Repeat([]byte(`{"symbol":"VTI","weightPercent":1.25}`), 64)
		compressed, err := common.Compress(payload)
		Expect(err).To(BeNil())
		Expect(len(compressed)).To(BeNumerically("<", len(payload)))

		restored, err := common.Decompress(compressed)
		Expect(err).To(BeNil())
		Expect(restored).To(Equal(payload))
	})
})
