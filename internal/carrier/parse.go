package carrier

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status ids the carrier uses for failed parcels.
var errorStatusIDs = map[int]bool{
	91: true, 92: true, 93: true, 1999: true, 2000: true, 2001: true,
}

var dateLayouts = []string{
	"02-01-2006 15:04:05",
	"02/01/2006 15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-01-2006",
}

// parseDate accepts the carrier's assorted date representations: a handful of
// string layouts or a unix timestamp in seconds or milliseconds.
func parseDate(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}

	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		if num <= 0 {
			return time.Time{}, false
		}
		// Timestamps before year 5000 in seconds, otherwise milliseconds.
		if num < 1e11 {
			return time.Unix(int64(num), 0).UTC(), true
		}
		return time.UnixMilli(int64(num)).UTC(), true
	}

	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return time.Time{}, false
	}
	str = strings.TrimSpace(str)
	if str == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, str); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseParcel maps a raw parcel payload into the canonical Shipment. Weight
// arrives as a kg string and is converted to grams.
func parseParcel(raw json.RawMessage) (Shipment, error) {
	var p parcelPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Shipment{}, fmt.Errorf("carrier: decode parcel: %w", err)
	}
	if p.ID.String() == "" {
		return Shipment{}, fmt.Errorf("carrier: parcel without id")
	}

	weightKg, _ := strconv.ParseFloat(p.Weight, 64)
	weightGrams := int64(math.Round(weightKg * 1000))

	// Prefer the carrier-side creation date; fall back through the
	// progressively less reliable timestamps, then to now.
	shippedAt, ok := parseDate(p.DateCreated)
	if !ok {
		for _, candidate := range []json.RawMessage{p.DateAnnounced, p.DateUpdated, p.CreatedAt, p.UpdatedAt} {
			if shippedAt, ok = parseDate(candidate); ok {
				break
			}
		}
	}
	if !ok {
		shippedAt = time.Now().UTC()
	}

	s := Shipment{
		ExternalID:  p.ID.String(),
		OrderRef:    p.OrderNumber,
		Carrier:     "unknown",
		WeightGrams: weightGrams,
		Tracking:    p.TrackingNumber,
		TrackingURL: p.TrackingURL,
		ShippedAt:   shippedAt,
		IsReturn:    p.IsReturn,
		Raw:         raw,
	}
	if p.Carrier != nil && p.Carrier.Code != "" {
		s.Carrier = p.Carrier.Code
	}
	if p.Shipment != nil {
		s.Service = p.Shipment.Name
	}
	if p.Status != nil {
		s.StatusID = p.Status.ID
		s.StatusMessage = p.Status.Message
	}
	if p.Country != nil {
		s.CountryCode = p.Country.ISO2
	}
	if p.Label != nil {
		s.LabelURL = p.Label.LabelPrinter
	}
	if p.ToServicePoint != nil {
		s.ServicePointID = strconv.FormatInt(*p.ToServicePoint, 10)
	}

	for _, item := range p.ParcelItems {
		code := item.SKU
		if code == "" {
			code = item.Description
		}
		if code == "" {
			continue
		}
		value, _ := decimal.NewFromString(item.Value)
		s.Items = append(s.Items, Item{
			SKUCode:     code,
			Qty:         item.Quantity,
			Description: item.Description,
			Value:       value,
		})
	}

	if len(p.Errors) > 0 {
		s.HasError = true
		s.ErrorMessage = flattenFieldErrors(p.Errors)
	} else if p.Status != nil && errorStatusIDs[p.Status.ID] {
		s.HasError = true
		s.ErrorMessage = p.Status.Message
		if s.ErrorMessage == "" {
			s.ErrorMessage = "carrier reported error status"
		}
	}

	return s, nil
}

func flattenFieldErrors(fields map[string][]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(fields[k], ", ")))
	}
	return strings.Join(parts, "; ")
}

var returnStatusByID = map[int]string{
	1:    ReturnStatusAnnounced,
	2:    ReturnStatusReady,
	3:    ReturnStatusInTransit,
	4:    ReturnStatusDelivered,
	5:    ReturnStatusCancelled,
	6:    ReturnStatusAtCarrier,
	1000: ReturnStatusAnnounced,
	2000: ReturnStatusReady,
	3000: ReturnStatusInTransit,
	4000: ReturnStatusDelivered,
}

func mapReturnStatusID(id int) string {
	if status, ok := returnStatusByID[id]; ok {
		return status
	}
	return ReturnStatusAnnounced
}

// mapReturnReason normalises the carrier's free-form reason/refund structures
// into a small closed set.
func mapReturnReason(reason, refund json.RawMessage) string {
	combined := strings.ToLower(extractReasonText(reason) + " " + extractReasonText(refund))
	if strings.TrimSpace(combined) == "" {
		return ""
	}
	switch {
	case strings.Contains(combined, "money"), strings.Contains(combined, "refund"):
		return "refund"
	case strings.Contains(combined, "exchange"), strings.Contains(combined, "replace"):
		return "exchange"
	case strings.Contains(combined, "defect"), strings.Contains(combined, "broken"):
		return "defective"
	case strings.Contains(combined, "wrong"):
		return "wrong_item"
	}
	return "other"
}

func extractReasonText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	if nested, ok := obj["refund_type"]; ok {
		return extractReasonText(nested)
	}
	for _, key := range []string{"message", "code", "label", "reason", "name"} {
		if v, ok := obj[key]; ok {
			if s := extractReasonText(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// parseReturn maps a raw return payload into the canonical Return. The
// incoming parcel id doubles as the external id so returns share the
// shipments' uniqueness scheme.
func parseReturn(raw json.RawMessage) (Return, error) {
	var p returnPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Return{}, fmt.Errorf("carrier: decode return: %w", err)
	}
	if p.ID.String() == "" {
		return Return{}, fmt.Errorf("carrier: return without id")
	}

	status := ReturnStatusAnnounced
	statusMessage := ""
	var statusStr string
	if err := json.Unmarshal(p.Status, &statusStr); err == nil {
		switch strings.ToLower(statusStr) {
		case "open":
			status = ReturnStatusAnnounced
		case "closed":
			status = ReturnStatusDelivered
		case "cancelled":
			status = ReturnStatusCancelled
		}
		statusMessage = statusStr
	} else {
		var statusObj idMessage
		if err := json.Unmarshal(p.Status, &statusObj); err == nil {
			status = mapReturnStatusID(statusObj.ID)
			statusMessage = statusObj.Message
		}
	}
	if p.IncomingParcelStatus != nil {
		status = mapReturnStatusID(p.IncomingParcelStatus.ID)
		statusMessage = p.IncomingParcelStatus.Message
	}
	if p.IncomingParcelData != nil && p.IncomingParcelData.GlobalStatusSlug != "" {
		slug := strings.ToLower(p.IncomingParcelData.GlobalStatusSlug)
		switch {
		case strings.Contains(slug, "transit"):
			status = ReturnStatusInTransit
		case strings.Contains(slug, "delivered"):
			status = ReturnStatusDelivered
		case strings.Contains(slug, "announced"):
			status = ReturnStatusAnnounced
		case strings.Contains(slug, "ready"):
			status = ReturnStatusReady
		}
	}

	createdAt, ok := parseDate(p.CreatedAt)
	if !ok {
		createdAt = time.Now().UTC()
	}

	ret := Return{
		ExternalID:    p.IncomingParcel.String(),
		ReturnID:      p.ID.String(),
		Status:        status,
		StatusMessage: statusMessage,
		Reason:        mapReturnReason(p.Reason, p.Refund),
		ReasonComment: p.Message,
		CreatedAt:     createdAt,
		Raw:           raw,
	}
	if ret.ExternalID == "" {
		ret.ExternalID = ret.ReturnID
	}
	if p.IncomingParcelData != nil {
		ret.OrderRef = p.IncomingParcelData.OrderNumber
		ret.TrackingNumber = p.IncomingParcelData.TrackingNumber
		ret.TrackingURL = p.IncomingParcelData.TrackingURL
	}
	if ret.OrderRef == "" && p.OutgoingParcelData != nil {
		ret.OrderRef = p.OutgoingParcelData.OrderNumber
	}
	return ret, nil
}
