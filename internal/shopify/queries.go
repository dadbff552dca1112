package shopify

// cartFields is the selection set shared by every cart query and mutation.
// All mutations return the full cart so the synchronizer can adopt the
// response wholesale as the new source of truth.
const cartFields = `
  id
  checkoutUrl
  totalQuantity
  cost {
    subtotalAmount {
      amount
      currencyCode
    }
    totalAmount {
      amount
      currencyCode
    }
  }
  lines(first: 100) {
    edges {
      node {
        id
        quantity
        merchandise {
          ... on ProductVariant {
            id
            title
            product {
              id
              title
              handle
            }
            image {
              url
            }
            price {
              amount
              currencyCode
            }
          }
        }
      }
    }
  }
`

const createCartMutation = `
mutation CreateCart($input: CartInput!) {
  cartCreate(input: $input) {
    cart {` + cartFields + `}
    userErrors {
      field
      message
    }
  }
}`

const getCartQuery = `
query GetCart($cartId: ID!) {
  cart(id: $cartId) {` + cartFields + `}
}`

const addLinesMutation = `
mutation AddToCart($cartId: ID!, $lines: [CartLineInput!]!) {
  cartLinesAdd(cartId: $cartId, lines: $lines) {
    cart {` + cartFields + `}
    userErrors {
      field
      message
    }
  }
}`

const updateLinesMutation = `
mutation UpdateCartLine($cartId: ID!, $lines: [CartLineUpdateInput!]!) {
  cartLinesUpdate(cartId: $cartId, lines: $lines) {
    cart {` + cartFields + `}
    userErrors {
      field
      message
    }
  }
}`

const removeLinesMutation = `
mutation RemoveFromCart($cartId: ID!, $lineIds: [ID!]!) {
  cartLinesRemove(cartId: $cartId, lineIds: $lineIds) {
    cart {` + cartFields + `}
    userErrors {
      field
      message
    }
  }
}`

const updateBuyerIdentityMutation = `
mutation UpdateCartBuyerIdentity($cartId: ID!, $buyerIdentity: CartBuyerIdentityInput!) {
  cartBuyerIdentityUpdate(cartId: $cartId, buyerIdentity: $buyerIdentity) {
    cart {` + cartFields + `}
    userErrors {
      field
      message
    }
  }
}`

const productsQuery = `
query Products($first: Int!) {
  products(first: $first) {
    edges {
      node {
        id
        title
        handle
        description
        featuredImage {
          url
        }
        priceRange {
          minVariantPrice {
            amount
            currencyCode
          }
        }
        variants(first: 20) {
          edges {
            node {
              id
              title
              availableForSale
              price {
                amount
                currencyCode
              }
            }
          }
        }
      }
    }
  }
}`

const productByHandleQuery = `
query ProductByHandle($handle: String!) {
  product(handle: $handle) {
    id
    title
    handle
    description
    featuredImage {
      url
    }
    priceRange {
      minVariantPrice {
        amount
        currencyCode
      }
    }
    variants(first: 20) {
      edges {
        node {
          id
          title
          availableForSale
          price {
            amount
            currencyCode
          }
        }
      }
    }
  }
}`
