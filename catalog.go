package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// ErrUnknownVariant is returned when a storefront variant has no provider
// mapping.
var ErrUnknownVariant = errors.New("unknown storefront variant")

// Variant maps one storefront variant onto the print provider's catalogue.
type Variant struct {
	Product           string `json:"product"`
	Name              string `json:"name"`
	StorefrontID      string `json:"storefront_variant_id"`
	BlueprintID       int    `json:"blueprint_id"`
	PrintProviderID   int    `json:"print_provider_id"`
	ProviderVariantID int    `json:"provider_variant_id"`
	PrintArea         string `json:"print_area"`
}

// Catalog resolves storefront variant IDs.
type Catalog struct {
	ShopID   string
	variants map[string]Variant
}

type hclCatalogFile struct {
	ShopID   string        `hcl:"shop_id,optional"`
	Products []*hclProduct `hcl:"product,block"`
}

type hclProduct struct {
	Handle          string        `hcl:"handle,label"`
	Title           string        `hcl:"title,optional"`
	BlueprintID     int           `hcl:"blueprint_id"`
	PrintProviderID int           `hcl:"print_provider_id"`
	PrintArea       string        `hcl:"print_area,optional"`
	Variants        []*hclVariant `hcl:"variant,block"`
}

type hclVariant struct {
	Name              string `hcl:"name,label"`
	StorefrontID      string `hcl:"storefront_variant_id"`
	ProviderVariantID int    `hcl:"provider_variant_id"`
}

// LoadCatalog reads an HCL catalog file. Expressions can read environment
// variables as env.NAME.
func LoadCatalog(path string) (*Catalog, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalog(src, path, os.Environ())
}

// ParseCatalog decodes catalog source. environ is a list of KEY=value pairs
// exposed to expressions as the env object.
func ParseCatalog(src []byte, filename string, environ []string) (*Catalog, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse catalog %s: %s", filename, diags.Error())
	}

	var parsed hclCatalogFile
	if diags := gohcl.DecodeBody(file.Body, catalogEvalContext(environ), &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("decode catalog %s: %s", filename, diags.Error())
	}

	c := &Catalog{ShopID: parsed.ShopID, variants: make(map[string]Variant)}
	for _, p := range parsed.Products {
		area := p.PrintArea
		if area == "" {
			area = "front"
		}
		for _, v := range p.Variants {
			id := strings.TrimSpace(v.StorefrontID)
			if id == "" {
				return nil, fmt.Errorf("catalog %s: product %q variant %q has no storefront_variant_id", filename, p.Handle, v.Name)
			}
			if prev, dup := c.variants[id]; dup {
				return nil, fmt.Errorf("catalog %s: storefront variant %s mapped twice (%s/%s and %s/%s)",
					filename, id, prev.Product, prev.Name, p.Handle, v.Name)
			}
			c.variants[id] = Variant{
				Product:           p.Handle,
				Name:              v.Name,
				StorefrontID:      id,
				BlueprintID:       p.BlueprintID,
				PrintProviderID:   p.PrintProviderID,
				ProviderVariantID: v.ProviderVariantID,
				PrintArea:         area,
			}
		}
	}
	return c, nil
}

func catalogEvalContext(environ []string) *hcl.EvalContext {
	vars := make(map[string]cty.Value, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" || !hclIdentifier(k) {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(vars)},
	}
}

func hclIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return false
		}
	}
	return true
}

// Resolve returns the provider variant for a storefront variant ID.
func (c *Catalog) Resolve(storefrontID string) (Variant, error) {
	if c == nil {
		return Variant{}, fmt.Errorf("%w: %s (no catalog loaded)", ErrUnknownVariant, storefrontID)
	}
	v, ok := c.variants[strings.TrimSpace(storefrontID)]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %s", ErrUnknownVariant, storefrontID)
	}
	return v, nil
}

// Len returns the number of mapped variants.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.variants)
}
