package toolkit_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestToolkit(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}
