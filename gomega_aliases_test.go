package tcsim

import "github.com/onsi/gomega"

// The package exports its own Default, which clashes with gomega.Default under
// a dot-import, so the gomega identifiers used by the tests are bound here instead.
var (
	RegisterFailHandler = gomega.RegisterFailHandler
	Expect              = gomega.Expect
	Equal               = gomega.Equal
	HaveOccurred        = gomega.HaveOccurred
	Succeed             = gomega.Succeed
	BeNumerically       = gomega.BeNumerically
	BeZero              = gomega.BeZero
	BeTrue              = gomega.BeTrue
	BeFalse             = gomega.BeFalse
	BeNil               = gomega.BeNil
	BeIdenticalTo       = gomega.BeIdenticalTo
	BeEmpty             = gomega.BeEmpty
	HaveLen             = gomega.HaveLen
	ContainSubstring    = gomega.ContainSubstring
	ConsistOf           = gomega.ConsistOf
	MatchError          = gomega.MatchError
	Panic               = gomega.Panic
	Receive             = gomega.Receive
)
