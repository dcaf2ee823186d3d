package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clinsign/signserver/internal/certs"
	"github.com/clinsign/signserver/internal/config"
	"github.com/clinsign/signserver/internal/db"
	"github.com/clinsign/signserver/internal/db/repository"
	"github.com/clinsign/signserver/internal/logging"
	"github.com/clinsign/signserver/internal/secrets"
	"github.com/clinsign/signserver/internal/signing"
	"github.com/clinsign/signserver/internal/token"
	"github.com/clinsign/signserver/internal/tsa"
)

var (
	// Version information (set via ldflags)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath string
	app        *application
)

// application holds the wired-up services shared by all commands
type application struct {
	cfg      *config.Config
	database *db.DB
	manager  *certs.Manager
	service  *signing.Service
	audits   *repository.AuditRepository
	certRepo *repository.CertificateRepository
	tokens   token.Directory
}

var rootCmd = &cobra.Command{
	Use:   "signctl",
	Short: "Clinical document signing service control tool",
	Long:  "Control tool for managing signing certificates, signing clinical documents and re-validating stored signatures",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("signctl\n")
		fmt.Printf("Version:    %s\n", Version)
		fmt.Printf("Commit:     %s\n", Commit)
		fmt.Printf("Build Time: %s\n", BuildTime)
	},
}

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Manage signing certificates",
}

var certImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a software (A1) PKCS#12 key bundle",
	RunE:  importCertificate,
}

var certRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a hardware-token (A3) certificate by thumbprint",
	RunE:  registerCertificate,
}

var certRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Invalidate a certificate",
	RunE:  revokeCertificate,
}

var certListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a signer's certificates",
	RunE:  listCertificates,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Inspect connected hardware tokens",
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List certificates on connected hardware tokens",
	RunE:  listTokens,
}

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a clinical document with the signer's active certificate",
	RunE:  signDocument,
}

var validateCmd = &cobra.Command{
	Use:   "validate <signature-id>",
	Short: "Re-validate a stored signature",
	Args:  cobra.ExactArgs(1),
	RunE:  validateSignature,
}

var signaturesCmd = &cobra.Command{
	Use:   "signatures",
	Short: "List signatures on a document",
	RunE:  listSignatures,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List audit log entries",
	RunE:  listAudit,
}

var (
	signerID     string
	tenantID     string
	bundlePath   string
	password     string
	thumbprint   string
	certID       string
	documentID   string
	documentType string
	documentPath string
	clientIP     string
	action       string
	limit        int
)

func init() {
	// Root flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/signserver/config.yaml", "Config file path")

	// Certificate import flags
	certImportCmd.Flags().StringVarP(&signerID, "signer", "s", "", "Signer id (required)")
	certImportCmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant id (required)")
	certImportCmd.Flags().StringVar(&bundlePath, "bundle", "", "Path to the PKCS#12 bundle (required)")
	certImportCmd.Flags().StringVarP(&password, "password", "p", "", "Bundle password")
	certImportCmd.MarkFlagRequired("signer")
	certImportCmd.MarkFlagRequired("tenant")
	certImportCmd.MarkFlagRequired("bundle")

	// Certificate register flags
	certRegisterCmd.Flags().StringVarP(&signerID, "signer", "s", "", "Signer id (required)")
	certRegisterCmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant id (required)")
	certRegisterCmd.Flags().StringVar(&thumbprint, "thumbprint", "", "Certificate SHA-1 thumbprint (required)")
	certRegisterCmd.MarkFlagRequired("signer")
	certRegisterCmd.MarkFlagRequired("tenant")
	certRegisterCmd.MarkFlagRequired("thumbprint")

	// Certificate revoke flags
	certRevokeCmd.Flags().StringVar(&certID, "id", "", "Certificate id (required)")
	certRevokeCmd.Flags().StringVarP(&signerID, "signer", "s", "", "Signer id (required)")
	certRevokeCmd.MarkFlagRequired("id")
	certRevokeCmd.MarkFlagRequired("signer")

	// Certificate list flags
	certListCmd.Flags().StringVarP(&signerID, "signer", "s", "", "Signer id (required)")
	certListCmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries")
	certListCmd.MarkFlagRequired("signer")

	// Sign flags
	signCmd.Flags().StringVarP(&signerID, "signer", "s", "", "Signer id (required)")
	signCmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant id (required)")
	signCmd.Flags().StringVar(&documentID, "document-id", "", "Document id (required)")
	signCmd.Flags().StringVar(&documentType, "type", "", "Document type (required)")
	signCmd.Flags().StringVar(&documentPath, "document", "", "Path to the document content (required)")
	signCmd.Flags().StringVarP(&password, "password", "p", "", "Key bundle password (software certificates)")
	signCmd.Flags().StringVar(&clientIP, "client-ip", "", "Originating client IP for the audit trail")
	signCmd.MarkFlagRequired("signer")
	signCmd.MarkFlagRequired("tenant")
	signCmd.MarkFlagRequired("document-id")
	signCmd.MarkFlagRequired("type")
	signCmd.MarkFlagRequired("document")

	// Signatures list flags
	signaturesCmd.Flags().StringVar(&documentID, "document-id", "", "Document id (required)")
	signaturesCmd.Flags().StringVar(&documentType, "type", "", "Document type (required)")
	signaturesCmd.MarkFlagRequired("document-id")
	signaturesCmd.MarkFlagRequired("type")

	// Audit list flags
	auditCmd.Flags().StringVarP(&signerID, "signer", "s", "", "Filter by signer id")
	auditCmd.Flags().StringVar(&action, "action", "", "Filter by action")
	auditCmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries")

	// Add commands
	certCmd.AddCommand(certImportCmd)
	certCmd.AddCommand(certRegisterCmd)
	certCmd.AddCommand(certRevokeCmd)
	certCmd.AddCommand(certListCmd)
	tokenCmd.AddCommand(tokenListCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(certCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(signaturesCmd)
	rootCmd.AddCommand(auditCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initApp loads configuration and wires the full service stack
func initApp() error {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(cfg.Logging)

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.RunMigrations(database); err != nil {
		database.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	certRepo := repository.NewCertificateRepository(database.DB)
	sigRepo := repository.NewSignatureRepository(database.DB)
	auditRepo := repository.NewAuditRepository(database.DB)

	encryptor, err := secrets.NewEncryptor(cfg.EncryptionKey())
	if err != nil {
		database.Close()
		return fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	directory := token.NewPKCS11Directory(cfg.PKCS11.ModulePath, cfg.PKCS11.PIN, logger)
	trust := certs.NewTrustPolicy(cfg.Trust.TrustedIssuers)
	manager := certs.NewManager(certRepo, encryptor, directory, trust, auditRepo, logger)

	tsaClient := tsa.NewClient(cfg.TSA.Endpoints, cfg.TSATimeout(), logger)
	service := signing.NewService(certRepo, sigRepo, auditRepo, manager, tsaClient, cfg.Signing.Location, logger)

	app = &application{
		cfg:      cfg,
		database: database,
		manager:  manager,
		service:  service,
		audits:   auditRepo,
		certRepo: certRepo,
		tokens:   directory,
	}

	return nil
}

func importCertificate(cmd *cobra.Command, args []string) error {
	if err := initApp(); err != nil {
		return err
	}
	defer app.database.Close()

	bundle, err := os.ReadFile(bundlePath)
	if err != nil {
		return fmt.Errorf("failed to read bundle: %w", err)
	}

	rec, err := app.manager.ImportSoftwareCertificate(cmd.Context(), signerID, tenantID, bundle, password)
	if err != nil {
		return err
	}

	fmt.Printf("Certificate imported\n")
	fmt.Printf("ID:         %s\n", rec.ID)
	fmt.Printf("Subject:    %s\n", rec.SubjectName)
	fmt.Printf("Issuer:     %s\n", rec.IssuerName)
	fmt.Printf("Serial:     %s\n", rec.SerialNumber)
	fmt.Printf("Expires at: %s\n", rec.ExpiresAt.Format("2006-01-02 15:04:05"))

	return nil
}

func registerCertificate(cmd *cobra.Command, args []string) error {
	if err := initApp(); err != nil {
		return err
	}
	defer app.database.Close()

	rec, err := app.manager.RegisterHardwareCertificate(cmd.Context(), signerID, tenantID, thumbprint)
	if err != nil {
		return err
	}

	fmt.Printf("Certificate registered\n")
	fmt.Printf("ID:         %s\n", rec.ID)
	fmt.Printf("Subject:    %s\n", rec.SubjectName)
	fmt.Printf("Thumbprint: %s\n", rec.Thumbprint)
	fmt.Printf("Expires at: %s\n", rec.ExpiresAt.Format("2006-01-02 15:04:05"))

	return nil
}

func revokeCertificate(cmd *cobra.Command, args []string) error {
	if err := initApp(); err != nil {
		return err
	}
	defer app.database.Close()

	if err := app.manager.InvalidateCertificate(cmd.Context(), certID, signerID); err != nil {
		return err
	}

	fmt.Printf("Certificate %s invalidated\n", certID)
	return nil
}

func listCertificates(cmd *cobra.Command, args []string) error {
	if err := initApp(); err != nil {
		return err
	}
	defer app.database.Close()

	records, err := app.certRepo.ListBySigner(cmd.Context(), signerID, limit)
	if err != nil {
		return fmt.Errorf("failed to list certificates: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No certificates found")
		return nil
	}

	fmt.Printf("%-36s %-14s %-8s %-10s %-20s %s\n", "ID", "Kind", "Valid", "Signatures", "Expires", "Subject")
	fmt.Println("--------------------------------------------------------------------------------------------------------")
	for _, rec := range records {
		validStr := "no"
		if rec.Valid {
			validStr = "yes"
		}
		fmt.Printf("%-36s %-14s %-8s %-10d %-20s %s\n",
			rec.ID,
			rec.Kind,
			validStr,
			rec.SignatureCount,
			rec.ExpiresAt.Format("2006-01-02 15:04:05"),
			rec.SubjectName,
		)
	}

	return nil
}

func listTokens(cmd *cobra.Command, args []string) error {
	if err := initApp(); err != nil {
		return err
	}
	defer app.database.Close()

	certificates, err := app.tokens.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list hardware tokens: %w", err)
	}

	if len(certificates) == 0 {
		fmt.Println("No certificates found on connected tokens")
		return nil
	}

	for _, cert := range certificates {
		fmt.Printf("Thumbprint: %s\n", cert.Thumbprint)
		fmt.Printf("Subject:    %s\n", cert.Certificate.Subject.String())
		fmt.Printf("Issuer:     %s\n", cert.Certificate.Issuer.String())
		fmt.Printf("Expires at: %s\n\n", cert.Certificate.NotAfter.Format("2006-01-02 15:04:05"))
	}

	return nil
}

func signDocument(cmd *cobra.Command, args []string) error {
	if err := initApp(); err != nil {
		return err
	}
	defer app.database.Close()

	document, err := os.ReadFile(documentPath)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	rec, err := app.service.Sign(cmd.Context(), &signing.SignRequest{
		SignerID:     signerID,
		TenantID:     tenantID,
		DocumentID:   documentID,
		DocumentType: documentType,
		Document:     document,
		Password:     password,
		ClientIP:     clientIP,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Document signed\n")
	fmt.Printf("Signature ID:  %s\n", rec.ID)
	fmt.Printf("Document hash: %s\n", rec.DocumentHash)
	fmt.Printf("Signed at:     %s\n", rec.SignedAt.Format("2006-01-02 15:04:05"))
	if rec.HasTimestamp {
		fmt.Printf("Timestamped:   %s\n", rec.TimestampTime.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Printf("Timestamped:   no\n")
	}

	return nil
}

func validateSignature(cmd *cobra.Command, args []string) error {
	if err := initApp(); err != nil {
		return err
	}
	defer app.database.Close()

	result, err := app.service.Validate(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render result: %w", err)
	}
	fmt.Println(string(out))

	return nil
}

func listSignatures(cmd *cobra.Command, args []string) error {
	if err := initApp(); err != nil {
		return err
	}
	defer app.database.Close()

	sigs, err := app.service.ListByDocument(cmd.Context(), documentID, documentType)
	if err != nil {
		return err
	}

	if len(sigs) == 0 {
		fmt.Println("No signatures found")
		return nil
	}

	fmt.Printf("%-36s %-20s %-20s %-6s %s\n", "ID", "Signer", "Signed at", "Valid", "Timestamped")
	fmt.Println("------------------------------------------------------------------------------------------------")
	for _, sig := range sigs {
		validStr := "no"
		if sig.Valid {
			validStr = "yes"
		}
		tsStr := "no"
		if sig.HasTimestamp {
			tsStr = sig.TimestampTime.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-36s %-20s %-20s %-6s %s\n",
			sig.ID,
			sig.SignerID,
			sig.SignedAt.Format("2006-01-02 15:04:05"),
			validStr,
			tsStr,
		)
	}

	return nil
}

func listAudit(cmd *cobra.Command, args []string) error {
	if err := initApp(); err != nil {
		return err
	}
	defer app.database.Close()

	logs, err := app.audits.List(cmd.Context(), signerID, action, limit)
	if err != nil {
		return err
	}

	if len(logs) == 0 {
		fmt.Println("No audit entries found")
		return nil
	}

	fmt.Printf("%-20s %-20s %-20s %-8s %s\n", "Timestamp", "Action", "Signer", "Success", "Error")
	fmt.Println("------------------------------------------------------------------------------------------------")
	for _, entry := range logs {
		successStr := "no"
		if entry.Success {
			successStr = "yes"
		}
		fmt.Printf("%-20s %-20s %-20s %-8s %s\n",
			entry.Timestamp.Format("2006-01-02 15:04:05"),
			entry.Action,
			entry.SignerID,
			successStr,
			entry.ErrorMsg,
		)
	}

	return nil
}
