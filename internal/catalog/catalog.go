package catalog

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/model"
)

// AddOnOnlyPlanID 仅购买加购项时使用的伪计划 ID
const AddOnOnlyPlanID = "addon_only_purchase"

// DefaultCurrency 默认币种
const DefaultCurrency = "INR"

var (
	ErrPlanNotFound  = errors.New("计划不存在")
	ErrAddOnNotFound = errors.New("加购项不存在")
	ErrInvalidEntry  = errors.New("目录配置无效")
	ErrInvalidUnits  = errors.New("加购数量无效")
)

// Plan 订阅计划，价格为最小货币单位
type Plan struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Price        int64              `json:"price"`
	Validity     time.Duration      `json:"-"`
	Entitlements model.Entitlements `json:"entitlements"`
	Tag          string             `json:"tag,omitempty"`
	Popular      bool               `json:"popular,omitempty"`
}

// ValidityHours 有效期（小时）
func (p Plan) ValidityHours() int {
	return int(p.Validity / time.Hour)
}

// AddOn 加购项，每份授予 Quantity 个 Kind 权益
type AddOn struct {
	ID       string                `json:"id"`
	Name     string                `json:"name"`
	Price    int64                 `json:"price"`
	Kind     model.EntitlementKind `json:"kind"`
	Quantity int                   `json:"quantity"`
}

// Catalog 只读的计划与加购项目录
type Catalog struct {
	currency string
	plans    []Plan
	addOns   []AddOn
	planIdx  map[string]int
	addOnIdx map[string]int
}

// New 校验并构建目录
func New(currency string, plans []Plan, addOns []AddOn) (*Catalog, error) {
	if currency == "" {
		currency = DefaultCurrency
	}
	c := &Catalog{
		currency: currency,
		plans:    make([]Plan, 0, len(plans)),
		addOns:   make([]AddOn, 0, len(addOns)),
		planIdx:  make(map[string]int, len(plans)),
		addOnIdx: make(map[string]int, len(addOns)),
	}

	for _, p := range plans {
		if err := validatePlan(p); err != nil {
			return nil, err
		}
		if _, dup := c.planIdx[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate plan %q", ErrInvalidEntry, p.ID)
		}
		c.planIdx[p.ID] = len(c.plans)
		c.plans = append(c.plans, p)
	}

	for _, a := range addOns {
		if err := validateAddOn(a); err != nil {
			return nil, err
		}
		if _, dup := c.addOnIdx[a.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate add-on %q", ErrInvalidEntry, a.ID)
		}
		c.addOnIdx[a.ID] = len(c.addOns)
		c.addOns = append(c.addOns, a)
	}

	return c, nil
}

func validatePlan(p Plan) error {
	if p.ID == "" || p.ID == AddOnOnlyPlanID {
		return fmt.Errorf("%w: plan id %q", ErrInvalidEntry, p.ID)
	}
	if p.Price < 0 {
		return fmt.Errorf("%w: plan %q has negative price", ErrInvalidEntry, p.ID)
	}
	if p.Validity <= 0 {
		return fmt.Errorf("%w: plan %q has no validity", ErrInvalidEntry, p.ID)
	}
	for _, k := range model.AllKinds {
		if n := p.Entitlements.Of(k); n < 0 && n != model.Unlimited {
			return fmt.Errorf("%w: plan %q has negative %s total", ErrInvalidEntry, p.ID, k)
		}
	}
	return nil
}

func validateAddOn(a AddOn) error {
	if a.ID == "" {
		return fmt.Errorf("%w: empty add-on id", ErrInvalidEntry)
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("%w: add-on %q has unknown kind %q", ErrInvalidEntry, a.ID, a.Kind)
	}
	if a.Quantity <= 0 {
		return fmt.Errorf("%w: add-on %q grants nothing", ErrInvalidEntry, a.ID)
	}
	if a.Price < 0 {
		return fmt.Errorf("%w: add-on %q has negative price", ErrInvalidEntry, a.ID)
	}
	return nil
}

// FromConfig 根据配置构建目录，未配置时使用内置目录
func FromConfig(cfg config.CatalogConfig) (*Catalog, error) {
	plans := DefaultPlans()
	addOns := DefaultAddOns()

	if len(cfg.Plans) > 0 {
		plans = make([]Plan, 0, len(cfg.Plans))
		for _, pc := range cfg.Plans {
			plans = append(plans, Plan{
				ID:       pc.ID,
				Name:     pc.Name,
				Price:    pc.Price,
				Validity: time.Duration(pc.DurationHours) * time.Hour,
				Entitlements: model.Entitlements{
					Optimizations:    pc.Optimizations,
					ScoreChecks:      pc.ScoreChecks,
					LinkedInMessages: pc.LinkedInMessages,
					GuidedBuilds:     pc.GuidedBuilds,
				},
				Tag:     pc.Tag,
				Popular: pc.Popular,
			})
		}
	}

	if len(cfg.AddOns) > 0 {
		addOns = make([]AddOn, 0, len(cfg.AddOns))
		for _, ac := range cfg.AddOns {
			addOns = append(addOns, AddOn{
				ID:       ac.ID,
				Name:     ac.Name,
				Price:    ac.Price,
				Kind:     model.EntitlementKind(ac.Kind),
				Quantity: ac.Quantity,
			})
		}
	}

	return New(cfg.Currency, plans, addOns)
}

// Default 内置目录
func Default() *Catalog {
	c, err := New(DefaultCurrency, DefaultPlans(), DefaultAddOns())
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) Currency() string {
	return c.currency
}

// PlanByID 按 ID 查找计划；未知 ID 返回 ErrPlanNotFound，不会回退到默认计划
func (c *Catalog) PlanByID(id string) (Plan, error) {
	i, ok := c.planIdx[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrPlanNotFound, id)
	}
	return c.plans[i], nil
}

// AddOnByID 按 ID 查找加购项
func (c *Catalog) AddOnByID(id string) (AddOn, error) {
	i, ok := c.addOnIdx[id]
	if !ok {
		return AddOn{}, fmt.Errorf("%w: %q", ErrAddOnNotFound, id)
	}
	return c.addOns[i], nil
}

// Plans 按价格从高到低返回所有计划
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	return out
}

func (c *Catalog) AddOns() []AddOn {
	out := make([]AddOn, len(c.addOns))
	copy(out, c.addOns)
	return out
}

// Grant 一次加购授予的权益
type Grant struct {
	AddOn    AddOn
	Units    int
	Quantity int
}

// ResolveAddOns 校验加购选择并计算总价，结果按 ID 排序
func (c *Catalog) ResolveAddOns(sel model.AddOnSelection) ([]Grant, int64, error) {
	var total int64
	grants := make([]Grant, 0, len(sel))
	for id, units := range sel {
		if units < 0 {
			return nil, 0, fmt.Errorf("%w: %q", ErrInvalidUnits, id)
		}
	}
	for _, id := range sel.IDs() {
		a, err := c.AddOnByID(id)
		if err != nil {
			return nil, 0, err
		}
		units := sel[id]
		total += a.Price * int64(units)
		grants = append(grants, Grant{AddOn: a, Units: units, Quantity: a.Quantity * units})
	}
	return grants, total, nil
}
