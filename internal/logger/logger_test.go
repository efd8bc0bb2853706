package logger_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/andresmejia3/cymatic/internal/logger"
)

var _ = Describe("NewWithWriters", func() {
	It("drops debug entries unless debug is on", func() {
		var buf bytes.Buffer
		log := logger.NewWithWriters(false, &buf)
		log.Debug("hidden")
		log.Info("tick published", zap.Uint64("tick", 3))
		Expect(log.Sync()).To(Succeed())

		Expect(buf.String()).NotTo(ContainSubstring("hidden"))
		Expect(buf.String()).To(ContainSubstring("tick published"))
		Expect(buf.String()).To(ContainSubstring(`"tick": 3`))
		Expect(buf.String()).To(ContainSubstring("cymatic"))
	})

	It("writes debug entries in debug mode", func() {
		var buf bytes.Buffer
		logger.NewWithWriters(true, &buf).Debug("visible")
		Expect(buf.String()).To(ContainSubstring("visible"))
	})

	It("fans out to every writer", func() {
		var a, b bytes.Buffer
		logger.NewWithWriters(false, &a, &b).Warn("worker respawned")
		Expect(a.String()).To(ContainSubstring("worker respawned"))
		Expect(b.String()).To(ContainSubstring("worker respawned"))
	})
})
