//go:build whispercpp

package main

import (
	"github.com/cho1y0/neulbom/internal/config"
	"github.com/cho1y0/neulbom/pkg/provider/stt"
	"github.com/cho1y0/neulbom/pkg/provider/stt/whisper"
)

func init() {
	extraRegistrations = append(extraRegistrations, func(reg *config.Registry) {
		reg.RegisterSTT("whisper-native", func(e config.ProviderEntry) (stt.Provider, error) {
			modelPath := e.Model
			if modelPath == "" {
				modelPath = optString(e.Options, "model_path")
			}
			var opts []whisper.NativeOption
			if lang := optString(e.Options, "language"); lang != "" {
				opts = append(opts, whisper.WithNativeLanguage(lang))
			}
			return whisper.NewNative(modelPath, opts...)
		})
	})
}
