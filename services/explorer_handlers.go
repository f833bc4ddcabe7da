package services

import (
	"strconv"
	"strings"

	"ledger-explorer/models"
	"ledger-explorer/pagination"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/text/unicode/norm"
)

// Fiber handlers. Every error is returned as-is and rendered by ErrorHandler.

func (s *ExplorerService) Health(c *fiber.Ctx) error {
	return c.SendString("ledger explorer is running")
}

func (s *ExplorerService) GetBlocks(c *fiber.Ctx) error {
	q, cursor, err := listParams(c)
	if err != nil {
		return err
	}
	page, err := s.Blocks(q, cursor)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (s *ExplorerService) GetBlock(c *fiber.Ctx) error {
	height, err := parseHeight(c.Params("height"))
	if err != nil {
		return err
	}
	b, err := s.Block(c.UserContext(), height)
	if err != nil {
		return err
	}
	return c.JSON(b)
}

func (s *ExplorerService) GetBlockTransactions(c *fiber.Ctx) error {
	height, err := parseHeight(c.Params("height"))
	if err != nil {
		return err
	}
	q, cursor, err := listParams(c)
	if err != nil {
		return err
	}
	page, err := s.BlockTransactions(c.UserContext(), height, q, cursor)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (s *ExplorerService) GetTransactions(c *fiber.Ctx) error {
	q, cursor, err := listParams(c)
	if err != nil {
		return err
	}
	var f pagination.TxFilter
	if v := c.Query("status"); v != "" {
		if f.Status, err = models.ParseTxStatus(v); err != nil {
			return invalid("status", "%v", err)
		}
	}
	if v := c.Query("height"); v != "" {
		if f.Height, err = parseHeight(v); err != nil {
			return err
		}
	}
	page, err := s.Transactions(f, q, cursor)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (s *ExplorerService) GetTransaction(c *fiber.Ctx) error {
	hash := strings.TrimSpace(c.Params("hash"))
	if hash == "" || len(hash) > 256 {
		return invalid("hash", "must be 1 to 256 characters")
	}
	tx, err := s.Transaction(c.UserContext(), hash)
	if err != nil {
		return err
	}
	return c.JSON(tx)
}

func (s *ExplorerService) GetAccounts(c *fiber.Ctx) error {
	q, cursor, err := listParams(c)
	if err != nil {
		return err
	}
	page, err := s.Accounts(q, cursor)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (s *ExplorerService) GetAccount(c *fiber.Ctx) error {
	domain, err := parseName("domain", c.Params("domain"))
	if err != nil {
		return err
	}
	name, err := parseName("name", c.Params("name"))
	if err != nil {
		return err
	}
	snap, err := s.Account(c.UserContext(), models.AccountID{Name: name, Domain: domain})
	if err != nil {
		return err
	}
	return c.JSON(snap)
}

func (s *ExplorerService) GetDomains(c *fiber.Ctx) error {
	q, cursor, err := listParams(c)
	if err != nil {
		return err
	}
	page, err := s.Domains(c.UserContext(), q, cursor)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (s *ExplorerService) GetDomain(c *fiber.Ctx) error {
	id, err := parseName("domain", c.Params("id"))
	if err != nil {
		return err
	}
	snap, err := s.Domain(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(snap)
}

func (s *ExplorerService) GetDomainAccounts(c *fiber.Ctx) error {
	id, err := parseName("domain", c.Params("id"))
	if err != nil {
		return err
	}
	q, cursor, err := listParams(c)
	if err != nil {
		return err
	}
	page, err := s.DomainAccounts(c.UserContext(), id, q, cursor)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (s *ExplorerService) GetDomainAssets(c *fiber.Ctx) error {
	id, err := parseName("domain", c.Params("id"))
	if err != nil {
		return err
	}
	q, cursor, err := listParams(c)
	if err != nil {
		return err
	}
	page, err := s.DomainAssets(c.UserContext(), id, q, cursor)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (s *ExplorerService) GetAssetDefinition(c *fiber.Ctx) error {
	domain, err := parseName("domain", c.Params("domain"))
	if err != nil {
		return err
	}
	name, err := parseName("name", c.Params("name"))
	if err != nil {
		return err
	}
	snap, err := s.AssetDefinition(c.UserContext(), models.AssetDefinitionID{Name: name, Domain: domain})
	if err != nil {
		return err
	}
	return c.JSON(snap)
}

func (s *ExplorerService) GetAssetDefinitions(c *fiber.Ctx) error {
	q, cursor, err := listParams(c)
	if err != nil {
		return err
	}
	page, err := s.AssetDefinitions(q, cursor)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (s *ExplorerService) GetAssets(c *fiber.Ctx) error {
	q, cursor, err := listParams(c)
	if err != nil {
		return err
	}
	page, err := s.Assets(q, cursor)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

// GetAsset takes both ids in their written form, `rose#wonderland` and
// `alice@wonderland`. The `#` has to be percent-encoded by the client.
func (s *ExplorerService) GetAsset(c *fiber.Ctx) error {
	def, err := models.ParseAssetDefinitionID(norm.NFC.String(c.Params("definition")))
	if err != nil {
		return invalid("definition_id", "%v", err)
	}
	account, err := models.ParseAccountID(norm.NFC.String(c.Params("account")))
	if err != nil {
		return invalid("account_id", "%v", err)
	}
	snap, err := s.Asset(c.UserContext(), def, account)
	if err != nil {
		return err
	}
	return c.JSON(snap)
}

func (s *ExplorerService) GetPeers(c *fiber.Ctx) error {
	peers, err := s.Peers(c.UserContext())
	if err != nil {
		return err
	}
	if peers == nil {
		peers = []models.PeerRecord{}
	}
	return c.JSON(fiber.Map{"peers": peers})
}

func (s *ExplorerService) GetRoles(c *fiber.Ctx) error {
	roles, err := s.Roles(c.UserContext())
	if err != nil {
		return err
	}
	if roles == nil {
		roles = []models.RoleRecord{}
	}
	return c.JSON(fiber.Map{"roles": roles})
}

func (s *ExplorerService) GetStatus(c *fiber.Ctx) error {
	return c.JSON(s.Status(c.UserContext()))
}

// PostInvalidate drops cached snapshots. ?domain= limits it to one domain.
func (s *ExplorerService) PostInvalidate(c *fiber.Ctx) error {
	domain := c.Query("domain")
	if domain != "" {
		var err error
		if domain, err = parseName("domain", domain); err != nil {
			return err
		}
	}
	epoch := s.Invalidate(domain)
	scope := domain
	if scope == "" {
		scope = "all"
	}
	return c.JSON(fiber.Map{"invalidated": scope, "epoch": epoch})
}

// listParams reads pageSize, order and cursor. Oversized pages are clamped
// by the engine, not rejected.
func listParams(c *fiber.Ctx) (pagination.Query, string, error) {
	var q pagination.Query
	if v := c.Query("pageSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return q, "", invalid("pageSize", "must be a positive integer, got %q", v)
		}
		q.PageSize = n
	}
	cursor := c.Query("cursor")
	if v := c.Query("order"); v != "" || cursor == "" {
		order, err := pagination.ParseOrder(v)
		if err != nil {
			return q, "", invalid("order", "%v", err)
		}
		q.Order = order
	}
	return q, cursor, nil
}

func parseHeight(s string) (uint64, error) {
	h, err := strconv.ParseUint(s, 10, 64)
	if err != nil || h == 0 {
		return 0, invalid("height", "must be a positive integer, got %q", s)
	}
	return h, nil
}

// parseName normalizes to NFC so composed and decomposed spellings of the
// same name address the same entity.
func parseName(field, s string) (string, error) {
	s = norm.NFC.String(s)
	if !models.ValidName(s) {
		return "", invalid(field, "%q is not a valid name", s)
	}
	return s, nil
}
