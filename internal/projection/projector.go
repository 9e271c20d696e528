package projection

import (
	"encoding/json"
	"fmt"
	"strings"

	"rfqdesk/internal/apperr"
	"rfqdesk/models"
)

var ErrMalformedItems = apperr.New(apperr.KindDataIntegrity, "malformed_items", "stored RFQ items are corrupt")

// ParseItems разбирает сохранённый список позиций RFQ.
// У каждой позиции должен быть стабильный id, иначе ответы не к чему привязать.
func ParseItems(raw string) ([]models.RequestedItem, error) {
	if strings.TrimSpace(raw) == "" {
		return []models.RequestedItem{}, nil
	}
	var items []models.RequestedItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, apperr.Wrap(ErrMalformedItems, err)
	}
	for i, it := range items {
		if strings.TrimSpace(it.ID) == "" {
			return nil, apperr.Wrap(ErrMalformedItems, fmt.Errorf("item %d has no id", i))
		}
	}
	return items, nil
}

// Project возвращает позиции, назначенные поставщику vendorName.
//
// Кандидаты берутся из строки приглашённых (через запятую), но остаются
// только те позиции, у которых vendorName есть в selectedVendors.
// Списки приглашённых поставщику не отдаются.
func Project(items []models.RequestedItem, vendorName string) []models.VendorItem {
	vendorName = strings.TrimSpace(vendorName)
	out := []models.VendorItem{}
	if vendorName == "" {
		return out
	}

	byVendor := make(map[string][]int)
	for i, it := range items {
		for _, name := range strings.Split(it.Vendors, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if l := byVendor[name]; len(l) > 0 && l[len(l)-1] == i {
				continue // дубль в строке одной позиции
			}
			byVendor[name] = append(byVendor[name], i)
		}
	}

	for _, i := range byVendor[vendorName] {
		it := items[i]
		if !selected(it.SelectedVendors, vendorName) {
			continue
		}
		out = append(out, models.VendorItem{
			ID:       it.ID,
			Name:     it.Name,
			Size:     it.Size,
			Unit:     it.Unit,
			Quantity: it.Quantity,
		})
	}
	return out
}

// ProjectRaw то же самое для сериализованного списка из RFQ
func ProjectRaw(raw, vendorName string) ([]models.VendorItem, error) {
	items, err := ParseItems(raw)
	if err != nil {
		return nil, err
	}
	return Project(items, vendorName), nil
}

func selected(list []string, vendorName string) bool {
	for _, v := range list {
		if strings.TrimSpace(v) == vendorName {
			return true
		}
	}
	return false
}
