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

package lookthrough_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pv-lookthrough/lookthrough"
)

var _ = Describe("ConversionTable", func() {
	It("loads the compiled in default", func() {
		table, err := lookthrough.LoadConversionTable("")
		Expect(err).To(BeNil())
		Expect(table.Len()).To(BeNumerically(">", 0))

		rule, ok := table.Rule("vfifx")
		Expect(ok).To(BeTrue())
		Expect(rule.Targets).To(HaveLen(4))
		Expect(rule.TotalWeight()).To(BeNumerically("~", 100, 1e-9))
		Expect(table.Digest()).To(HaveLen(32))

		assetClass, ok := table.AssetClass("BND")
		Expect(ok).To(BeTrue())
		Expect(assetClass).To(Equal("Bonds"))

		Expect(table.TargetSymbols()).To(ContainElements("VTI", "VXUS", "BND", "BNDX"))
	})

	It("reads a table from disk", func() {
		path := filepath.Join(GinkgoT().TempDir(), "conversion.toml")
		Expect(os.WriteFile(path, []byte(`
[[rule]]
symbol = "fbalx"
name = "Fidelity Balanced"
targets = [{ symbol = "voo", weight = 60 }, { symbol = "agg", weight = 40 }]
`), 0o600)).To(Succeed())

		table, err := lookthrough.LoadConversionTable(path)
		Expect(err).To(BeNil())

		rule, ok := table.Rule("FBALX")
		Expect(ok).To(BeTrue())
		Expect(rule.Targets[0].Symbol).To(Equal("VOO"))
		Expect(table.Rules()).To(HaveLen(1))
	})

	It("produces a different digest for different contents", func() {
		a, err := lookthrough.ParseConversionTable([]byte(`[[rule]]
symbol = "A"
targets = [{ symbol = "VTI", weight = 100 }]`))
		Expect(err).To(BeNil())
		b, err := lookthrough.ParseConversionTable([]byte(`[[rule]]
symbol = "A"
targets = [{ symbol = "VOO", weight = 100 }]`))
		Expect(err).To(BeNil())
		Expect(a.Digest()).NotTo(Equal(b.Digest()))
	})

	DescribeTable("rejecting invalid rules",
		func(doc string) {
			_, err := lookthrough.ParseConversionTable([]byte(doc))
			Expect(err).To(MatchError(lookthrough.ErrInvalidRule))
		},
		Entry("when a rule has no targets", `[[rule]]
symbol = "A"
targets = []`),
		Entry("when a rule has no symbol", `[[rule]]
targets = [{ symbol = "VTI", weight = 100 }]`),
		Entry("when a target has a negative weight", `[[rule]]
symbol = "A"
targets = [{ symbol = "VTI", weight = -5 }]`),
		Entry("when a symbol has two rules", `[[rule]]
symbol = "A"
targets = [{ symbol = "VTI", weight = 100 }]
[[rule]]
symbol = "a"
targets = [{ symbol = "VOO", weight = 100 }]`),
	)

	It("fails on malformed toml", func() {
		_, err := lookthrough.ParseConversionTable([]byte(`[[rule]`))
		Expect(err).NotTo(BeNil())
	})
})
