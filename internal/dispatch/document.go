package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"convertd/internal/config"
	"convertd/internal/fileutil"
	"convertd/internal/services"
)

// LibreOffice needs an explicit export filter for plain text.
var sofficeFilters = map[string]string{
	"txt": "txt:Text",
}

func (d *Dispatcher) convertDocument(ctx context.Context, workspace, inPath, outPath, target string) error {
	if target == "pdf" && d.converters.DocumentBackend == config.DocumentGotenberg {
		return d.convertWithGotenberg(ctx, inPath, outPath)
	}
	return d.convertWithLibreOffice(ctx, workspace, inPath, outPath, target)
}

func (d *Dispatcher) convertWithLibreOffice(ctx context.Context, workspace, inPath, outPath, target string) error {
	outDir := filepath.Join(workspace, "soffice-out")
	profile := filepath.Join(workspace, "soffice-profile")
	for _, dir := range []string{outDir, profile} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return services.Wrap(services.ErrTransient, stageName, "libreoffice", "prepare directories", err)
		}
	}

	filter := target
	if f, ok := sofficeFilters[target]; ok {
		filter = f
	}
	binary := d.converters.LibreOfficeBinary
	if binary == "" {
		binary = "soffice"
	}
	args := []string{
		"-env:UserInstallation=file://" + filepath.ToSlash(profile),
		"--headless",
		"--convert-to", filter,
		"--outdir", outDir,
		inPath,
	}
	if err := d.run(ctx, binary, args...); err != nil {
		return toolError(ctx, "libreoffice", err)
	}

	base := strings.TrimSuffix(filepath.Base(inPath), filepath.Ext(inPath))
	produced := filepath.Join(outDir, base+"."+target)
	if err := os.Rename(produced, outPath); err != nil {
		return services.Wrap(services.ErrExternalTool, stageName, "libreoffice", "converted file missing", err)
	}
	return nil
}

// convertWithGotenberg posts the document to Gotenberg's LibreOffice route.
func (d *Dispatcher) convertWithGotenberg(ctx context.Context, inPath, outPath string) error {
	file, err := os.Open(inPath)
	if err != nil {
		return services.Wrap(services.ErrTransient, stageName, "gotenberg", "open input", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("files", filepath.Base(inPath))
	if err != nil {
		return services.Wrap(services.ErrTransient, stageName, "gotenberg", "build form", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return services.Wrap(services.ErrTransient, stageName, "gotenberg", "copy input", err)
	}
	if err := writer.Close(); err != nil {
		return services.Wrap(services.ErrTransient, stageName, "gotenberg", "close form", err)
	}

	url := strings.TrimRight(d.converters.GotenbergURL, "/") + "/forms/libreoffice/convert"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, stageName, "gotenberg", "build request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return toolError(ctx, "gotenberg", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("gotenberg returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
		return toolError(ctx, "gotenberg", err)
	}
	if _, err := fileutil.WriteAtomic(outPath, resp.Body); err != nil {
		return services.Wrap(services.ErrTransient, stageName, "gotenberg", "save output", err)
	}
	return nil
}
