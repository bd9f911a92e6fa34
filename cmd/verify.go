package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clearpath-id/kyc-engine/internal/extraction"
	"github.com/clearpath-id/kyc-engine/internal/model"
	"github.com/clearpath-id/kyc-engine/internal/pipeline"
)

var verifyFlags struct {
	fullName     string
	dateOfBirth  string
	idNumber     string
	documentType string
	phone        string
	documentPath string
	facePath     string
}

// verifyCmd runs one verification end to end in process, auto-confirming the
// passcode. It exercises the same pipeline the server exposes, so it doubles
// as a smoke test against real providers.
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run a single verification end to end",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()
		p := env.Pipeline

		docImage, err := os.ReadFile(verifyFlags.documentPath)
		if err != nil {
			return eris.Wrap(err, "read document image")
		}
		faceImage, err := os.ReadFile(verifyFlags.facePath)
		if err != nil {
			return eris.Wrap(err, "read face image")
		}

		s, err := p.CreateSession(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("session created", zap.String("session_id", s.ID))

		s, err = p.SubmitPersonalInfo(ctx, s.ID, pipeline.PersonalInfo{
			FullName:     verifyFlags.fullName,
			DateOfBirth:  verifyFlags.dateOfBirth,
			IDNumber:     verifyFlags.idNumber,
			DocumentType: model.DocumentType(verifyFlags.documentType),
			Phone:        verifyFlags.phone,
		})
		if err != nil {
			return err
		}
		if s.Done() {
			return printSession(s, nil)
		}

		s, err = p.SubmitDocument(ctx, s.ID, extraction.Document{
			Type:   model.DocumentType(verifyFlags.documentType),
			Format: imageFormat(verifyFlags.documentPath),
			Image:  docImage,
		})
		if err != nil {
			return err
		}
		if s.Done() {
			return printSession(s, nil)
		}

		// Delivery is out of scope here; confirm the passcode in process.
		handle, err := p.RequestOTP(ctx, s.ID)
		if err != nil {
			return err
		}
		result, s, err := p.SubmitOTP(ctx, s.ID, handle.Code)
		if err != nil {
			return err
		}
		if result != model.OtpAccepted {
			return eris.Errorf("passcode not accepted: %s", result)
		}

		s, attestation, err := p.SubmitFace(ctx, s.ID, faceImage)
		if err != nil {
			return err
		}
		return printSession(s, attestation)
	},
}

func imageFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "jpeg"
	case ".pdf":
		return "pdf"
	default:
		return "png"
	}
}

func printSession(s *model.VerificationSession, attestation *model.Attestation) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return err
	}
	if attestation != nil {
		fmt.Fprintln(os.Stdout, "Attestation:")
		return enc.Encode(attestation)
	}
	return nil
}

func init() {
	verifyCmd.Flags().StringVar(&verifyFlags.fullName, "name", "", "claimed full name")
	verifyCmd.Flags().StringVar(&verifyFlags.dateOfBirth, "dob", "", "claimed date of birth (YYYY-MM-DD)")
	verifyCmd.Flags().StringVar(&verifyFlags.idNumber, "id-number", "", "claimed document number")
	verifyCmd.Flags().StringVar(&verifyFlags.documentType, "doc-type", "national_id", "document type (national_id, tax_id)")
	verifyCmd.Flags().StringVar(&verifyFlags.phone, "phone", "", "claimed phone number")
	verifyCmd.Flags().StringVar(&verifyFlags.documentPath, "document", "", "path to the document image")
	verifyCmd.Flags().StringVar(&verifyFlags.facePath, "face", "", "path to the face capture")
	for _, f := range []string{"name", "dob", "id-number", "phone", "document", "face"} {
		_ = verifyCmd.MarkFlagRequired(f)
	}
	rootCmd.AddCommand(verifyCmd)
}
